package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/auth"
	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/dispatcher"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

func testConf(t *testing.T) *conf.Conf {
	t.Helper()
	c, _, err := conf.Load("", nil)
	require.NoError(t, err)
	return c
}

func TestGetDeviceInformation(t *testing.T) {
	c := testConf(t)
	h := New(c, dispatcher.New(), nil, auth.NewGate(c))

	ctx := soapcontext.New()
	require.NoError(t, h.Handle(ctx, "GetDeviceInformation"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "Anyka")
	require.Contains(t, out, "AK3918 Camera")
	require.Contains(t, out, "1.0.0")
}

func TestSetScopesThenGetScopes(t *testing.T) {
	c := testConf(t)
	h := New(c, dispatcher.New(), nil, auth.NewGate(c))

	ctx := soapcontext.New()
	ctx.GenerateResponse(nil)
	require.NoError(t, ctx.ParseRequest([]byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="` + Namespace + `">` +
		`<soap:Body><tds:SetScopes><tds:Scopes>onvif://www.onvif.org/name/lobby-cam</tds:Scopes><tds:Scopes>onvif://www.onvif.org/location/lobby</tds:Scopes></tds:SetScopes></soap:Body></soap:Envelope>`)))
	require.NoError(t, h.Handle(ctx, "SetScopes"))

	ctx2 := soapcontext.New()
	require.NoError(t, h.Handle(ctx2, "GetScopes"))
	out := string(ctx2.ResponseData())
	require.Contains(t, out, "lobby-cam")
	require.Contains(t, out, "lobby")
}

func TestUnknownOperationIsSenderFault(t *testing.T) {
	c := testConf(t)
	h := New(c, dispatcher.New(), nil, auth.NewGate(c))

	ctx := soapcontext.New()
	require.NoError(t, h.Handle(ctx, "NoSuchOperation"))

	out := string(ctx.ResponseData())
	require.Contains(t, out, "soap:Sender")
	require.Contains(t, out, "ActionNotSupported")
}

func TestCreateThenDeleteUser(t *testing.T) {
	c := testConf(t)
	h := New(c, dispatcher.New(), nil, auth.NewGate(c))

	ctx := soapcontext.New()
	require.NoError(t, ctx.ParseRequest([]byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="` + Namespace + `">` +
		`<soap:Body><tds:CreateUsers><tds:User><tds:Username>viewer</tds:Username><tds:Password>secret123</tds:Password><tds:UserLevel>User</tds:UserLevel></tds:User></tds:CreateUsers></soap:Body></soap:Envelope>`)))
	require.NoError(t, h.Handle(ctx, "CreateUsers"))
	require.NotContains(t, string(ctx.ResponseData()), "soap:Fault")

	ctx2 := soapcontext.New()
	require.NoError(t, h.Handle(ctx2, "GetUsers"))
	require.Contains(t, string(ctx2.ResponseData()), "viewer")

	ctx3 := soapcontext.New()
	require.NoError(t, ctx3.ParseRequest([]byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="` + Namespace + `">` +
		`<soap:Body><tds:DeleteUsers><tds:Username>viewer</tds:Username></tds:DeleteUsers></soap:Body></soap:Envelope>`)))
	require.NoError(t, h.Handle(ctx3, "DeleteUsers"))
	require.NotContains(t, string(ctx3.ResponseData()), "soap:Fault")

	ctx4 := soapcontext.New()
	require.NoError(t, h.Handle(ctx4, "GetUsers"))
	require.NotContains(t, string(ctx4.ResponseData()), "viewer")
}
