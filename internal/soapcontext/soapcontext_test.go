package soapcontext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
)

const getDeviceInfoEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
	xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
	<soap:Body>
		<tds:GetDeviceInformation/>
	</soap:Body>
</soap:Envelope>`

const getStreamURIEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
	xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
	<soap:Body>
		<trt:GetStreamUri>
			<trt:ProfileToken>Profile_1</trt:ProfileToken>
		</trt:GetStreamUri>
	</soap:Body>
</soap:Envelope>`

func TestParseRequestExtractsOperation(t *testing.T) {
	c := New()
	err := c.ParseRequest([]byte(getDeviceInfoEnvelope))
	require.NoError(t, err)
	require.Equal(t, "GetDeviceInformation", c.Operation())
}

func TestParseRequestRejectsNonSOAPNamespace(t *testing.T) {
	c := New()
	err := c.ParseRequest([]byte(`<Envelope xmlns="urn:nothing"><Body><X/></Body></Envelope>`))
	require.Error(t, err)

	var oerr *onviferr.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, onviferr.KindInvalid, oerr.Kind)
}

func TestParseRequestRejectsMalformedXML(t *testing.T) {
	c := New()
	err := c.ParseRequest([]byte(`not xml at all`))
	require.Error(t, err)

	var oerr *onviferr.Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, onviferr.KindParse, oerr.Kind)
}

func TestParseRequestRejectsEmptyBody(t *testing.T) {
	c := New()
	err := c.ParseRequest([]byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body></soap:Body></soap:Envelope>`))
	require.Error(t, err)
}

func TestDecodeArgs(t *testing.T) {
	c := New()
	require.NoError(t, c.ParseRequest([]byte(getStreamURIEnvelope)))
	require.Equal(t, "GetStreamUri", c.Operation())

	var req struct {
		ProfileToken string `xml:"ProfileToken"`
	}
	require.NoError(t, c.DecodeArgs(&req))
	require.Equal(t, "Profile_1", req.ProfileToken)
}

func TestGenerateResponse(t *testing.T) {
	c := New()
	c.GenerateResponse([]byte(`<tds:GetDeviceInformationResponse><tds:Manufacturer>Anyka</tds:Manufacturer></tds:GetDeviceInformationResponse>`))

	out := string(c.ResponseData())
	require.Contains(t, out, "<soap:Envelope")
	require.Contains(t, out, "GetDeviceInformationResponse")
	require.Equal(t, len(out), c.ResponseLength())
}

func TestGenerateFaultFromError(t *testing.T) {
	c := New()
	c.GenerateFaultFromError(onviferr.NotFound("unknown profile token: %s", "Bogus"))

	out := string(c.ResponseData())
	require.Contains(t, out, "soap:Fault")
	require.Contains(t, out, "soap:Sender")
	require.Contains(t, out, "unknown profile token")
}

func TestGenerateFaultReceiverCode(t *testing.T) {
	c := New()
	c.GenerateFaultFromError(onviferr.New(onviferr.KindIO, "socket write failed"))

	out := string(c.ResponseData())
	require.Contains(t, out, "soap:Receiver")
}

func TestCleanupResetsState(t *testing.T) {
	c := New()
	require.NoError(t, c.ParseRequest([]byte(getDeviceInfoEnvelope)))
	c.Cleanup()

	require.Equal(t, "", c.Operation())
	require.Equal(t, 0, c.ResponseLength())
}
