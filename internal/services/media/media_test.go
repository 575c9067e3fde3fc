package media

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/streamfacade"
)

func testHandler(t *testing.T) (*Handler, *conf.Conf) {
	t.Helper()
	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	return New(c, streamfacade.NewURIBuilder("192.168.1.50", 554, 8080)), c
}

func envelope(tag, body string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:trt="` + Namespace + `">` +
		`<soap:Body><trt:` + tag + `>` + body + `</trt:` + tag + `></soap:Body></soap:Envelope>`
}

func TestGetProfilesListsFourBuiltins(t *testing.T) {
	h, _ := testHandler(t)
	ctx := soapcontext.New()
	require.NoError(t, h.Handle(ctx, "GetProfiles"))

	out := string(ctx.ResponseData())
	for i := 1; i <= MaxProfiles; i++ {
		require.Contains(t, out, "Profile_"+string(rune('0'+i)))
	}
}

func TestCreateProfileOverLimitFails(t *testing.T) {
	h, _ := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope("CreateProfile", `<trt:Name>Extra</trt:Name>`))))
	require.NoError(t, h.Handle(ctx, "CreateProfile"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "soap:Fault")
	require.Contains(t, out, "soap:Sender")
	require.Contains(t, out, "limit")
}

func TestDeleteProfileFailsOnFixed(t *testing.T) {
	h, _ := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope("DeleteProfile", `<trt:ProfileToken>Profile_1</trt:ProfileToken>`))))
	require.NoError(t, h.Handle(ctx, "DeleteProfile"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "soap:Fault")
}

func TestGetStreamUriIsStableAcrossCalls(t *testing.T) {
	h, _ := testHandler(t)

	req := envelope("GetStreamUri", `<trt:ProfileToken>Profile_1</trt:ProfileToken>`)

	ctx1 := soapcontext.New()
	require.NoError(t, ctx1.ParseRequest([]byte(req)))
	require.NoError(t, h.Handle(ctx1, "GetStreamUri"))

	ctx2 := soapcontext.New()
	require.NoError(t, ctx2.ParseRequest([]byte(req)))
	require.NoError(t, h.Handle(ctx2, "GetStreamUri"))

	require.Equal(t, string(ctx1.ResponseData()), string(ctx2.ResponseData()))

	builder := h.streams.(*streamfacade.URIBuilder)
	require.Equal(t, 1, builder.Hits)
	require.Equal(t, 1, builder.Misses)
}

func TestGetStreamUriUnknownProfileIsNotFound(t *testing.T) {
	h, _ := testHandler(t)

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(envelope("GetStreamUri", `<trt:ProfileToken>Bogus</trt:ProfileToken>`))))
	require.NoError(t, h.Handle(ctx, "GetStreamUri"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "soap:Fault")
}
