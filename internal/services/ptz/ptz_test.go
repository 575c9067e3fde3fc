package ptz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/hwfacade"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

func testConf(t *testing.T) *conf.Conf {
	t.Helper()
	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	return c
}

func envelope(tag, body string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tptz="` + Namespace + `">` +
		`<soap:Body><tptz:` + tag + `>` + body + `</tptz:` + tag + `></soap:Body></soap:Envelope>`
}

func TestAbsoluteMoveWithoutSpeedUsesDefault(t *testing.T) {
	sim := hwfacade.NewSimulator()
	h := New(testConf(t), sim)

	ctx2 := soapcontext.New()
	require.NoError(t, ctx2.ParseRequest([]byte(envelope("AbsoluteMove",
		`<tptz:ProfileToken>Profile_1</tptz:ProfileToken><tptz:Position><tt:PanTilt x="0.5" y="0.3"/></tptz:Position>`))))
	require.NoError(t, h.Handle(ctx2, "AbsoluteMove"))
	require.NotContains(t, string(ctx2.ResponseData()), "soap:Fault")
}

func TestSetPresetThenGotoPresetSucceeds(t *testing.T) {
	sim := hwfacade.NewSimulator()
	h := New(testConf(t), sim)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope("SetPreset",
		`<tptz:ProfileToken>Profile_1</tptz:ProfileToken><tptz:PresetName>Home</tptz:PresetName>`))))
	require.NoError(t, h.Handle(ctx, "SetPreset"))
	out := string(ctx.ResponseData())
	require.NotContains(t, out, "soap:Fault")
	require.Contains(t, out, "PresetToken")

	ctx2 := soapcontext.New()
	require.NoError(t, ctx2.ParseRequest([]byte(envelope("GotoPreset",
		`<tptz:ProfileToken>Profile_1</tptz:ProfileToken><tptz:PresetToken>Preset_1</tptz:PresetToken>`))))
	require.NoError(t, h.Handle(ctx2, "GotoPreset"))
	require.NotContains(t, string(ctx2.ResponseData()), "soap:Fault")
}

func TestGotoPresetUnknownTokenIsSenderFault(t *testing.T) {
	sim := hwfacade.NewSimulator()
	h := New(testConf(t), sim)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope("GotoPreset",
		`<tptz:ProfileToken>Profile_1</tptz:ProfileToken><tptz:PresetToken>Bogus</tptz:PresetToken>`))))
	require.NoError(t, h.Handle(ctx, "GotoPreset"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "soap:Fault")
	require.Contains(t, out, "soap:Sender")
}

func TestStopSucceeds(t *testing.T) {
	sim := hwfacade.NewSimulator()
	h := New(testConf(t), sim)

	ctx := soapcontext.New()
	require.NoError(t, h.Handle(ctx, "Stop"))
	require.NotContains(t, string(ctx.ResponseData()), "soap:Fault")
}
