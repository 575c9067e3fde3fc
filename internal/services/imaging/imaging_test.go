package imaging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/hwfacade"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/stats"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	return New(c, hwfacade.NewSimulator(), stats.New())
}

func envelope(body string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tt="` + Namespace + `">` +
		`<soap:Body><tt:SetImagingSettings>` + body + `</tt:SetImagingSettings></soap:Body></soap:Envelope>`
}

func TestSetThenGetImagingSettingsRoundTrips(t *testing.T) {
	h := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope(
		`<tt:ImagingSettings><tt:Brightness>70</tt:Brightness><tt:Contrast>60</tt:Contrast>`+
			`<tt:ColorSaturation>55</tt:ColorSaturation><tt:Sharpness>40</tt:Sharpness>`+
			`<tt:ColorSpace><tt:Hue>90</tt:Hue></tt:ColorSpace></tt:ImagingSettings>`))))
	require.NoError(t, h.Handle(ctx, "SetImagingSettings"))
	require.NotContains(t, string(ctx.ResponseData()), "soap:Fault")

	ctx2 := soapcontext.New()
	require.NoError(t, h.Handle(ctx2, "GetImagingSettings"))
	out := string(ctx2.ResponseData())
	require.Contains(t, out, "<tt:Brightness>70</tt:Brightness>")
	require.Contains(t, out, "<tt:Hue>90</tt:Hue>")
}

func TestSetImagingSettingsRejectsOutOfRange(t *testing.T) {
	h := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope(`<tt:ImagingSettings><tt:Brightness>150</tt:Brightness></tt:ImagingSettings>`))))
	require.NoError(t, h.Handle(ctx, "SetImagingSettings"))
	require.Contains(t, string(ctx.ResponseData()), "soap:Fault")
}

func TestSetImagingSettingsRejectsOutOfRangeHue(t *testing.T) {
	h := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope(`<tt:ImagingSettings><tt:ColorSpace><tt:Hue>200</tt:Hue></tt:ColorSpace></tt:ImagingSettings>`))))
	require.NoError(t, h.Handle(ctx, "SetImagingSettings"))
	require.Contains(t, string(ctx.ResponseData()), "soap:Fault")
}

func TestRepeatedIdenticalSetDoesNotRecountAsChanged(t *testing.T) {
	h := testHandler(t)
	body := `<tt:ImagingSettings><tt:Brightness>80</tt:Brightness></tt:ImagingSettings>`

	ctx1 := soapcontext.New()
	require.NoError(t, ctx1.ParseRequest([]byte(envelope(body))))
	require.NoError(t, h.Handle(ctx1, "SetImagingSettings"))

	before := *h.stats.CountImagingParamsUnchanged

	ctx2 := soapcontext.New()
	require.NoError(t, ctx2.ParseRequest([]byte(envelope(body))))
	require.NoError(t, h.Handle(ctx2, "SetImagingSettings"))

	require.Greater(t, *h.stats.CountImagingParamsUnchanged, before)
}
