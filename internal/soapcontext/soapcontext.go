// Package soapcontext implements the request-scoped SOAP envelope
// parser/builder (spec §4.5). A Context is created once per request, used
// to extract the operation name and typed arguments, and to serialize
// exactly one response or fault before being discarded.
package soapcontext

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
)

// ContentType is the SOAP 1.2 content type the daemon always emits.
const ContentType = "application/soap+xml; charset=utf-8"

const (
	soap12NS = "http://www.w3.org/2003/05/soap-envelope"
)

// Context is a request-scoped SOAP envelope. It is never shared across
// goroutines; each in-flight request owns exactly one.
type Context struct {
	operation string
	bodyXML   []byte
	response  bytes.Buffer
}

// New allocates an empty Context. It must be followed by ParseRequest
// before any operation-specific parsing is attempted.
func New() *Context {
	return &Context{}
}

// envelope12 is used only to locate soap:Body's raw inner XML; individual
// operations decode that inner XML themselves with typed request structs.
type envelope12 struct {
	XMLName xml.Name
	Body    struct {
		InnerXML []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// ParseRequest decodes the envelope and extracts the canonical operation
// name by stripping the namespace prefix from the first child element of
// soap:Body. It fails with onviferr.KindParse on malformed XML and
// onviferr.KindInvalid when the SOAP namespace is absent.
func (c *Context) ParseRequest(body []byte) error {
	var env envelope12
	if err := xml.Unmarshal(body, &env); err != nil {
		return onviferr.New(onviferr.KindParse, "malformed SOAP envelope: %s", err)
	}

	if env.XMLName.Space != soap12NS {
		return onviferr.New(onviferr.KindInvalid, "missing or unsupported SOAP envelope namespace")
	}

	dec := xml.NewDecoder(bytes.NewReader(env.Body.InnerXML))
	for {
		tok, err := dec.Token()
		if err != nil {
			return onviferr.New(onviferr.KindParse, "empty or malformed SOAP body")
		}
		if start, ok := tok.(xml.StartElement); ok {
			c.operation = start.Name.Local
			c.bodyXML = env.Body.InnerXML
			return nil
		}
	}
}

// Operation returns the canonical operation name extracted by ParseRequest.
func (c *Context) Operation() string {
	return c.operation
}

// DecodeArgs decodes the operation's body element into a typed request
// struct, e.g. a GetStreamUriRequest. v must be a pointer.
func (c *Context) DecodeArgs(v interface{}) error {
	if err := xml.Unmarshal(c.bodyXML, v); err != nil {
		return onviferr.New(onviferr.KindParse, "malformed request arguments: %s", err)
	}
	return nil
}

// GenerateResponse serializes a typed response payload (already XML,
// produced by a service's response-XML builder) as the sole child of
// soap:Body, wrapped in a SOAP 1.2 envelope.
func (c *Context) GenerateResponse(inner []byte) {
	c.response.Reset()
	c.response.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	c.response.WriteString(`<soap:Envelope xmlns:soap="` + soap12NS + `">`)
	c.response.WriteString(`<soap:Body>`)
	c.response.Write(inner)
	c.response.WriteString(`</soap:Body>`)
	c.response.WriteString(`</soap:Envelope>`)
}

// GenerateFault emits a SOAP 1.2 fault as the response body.
func (c *Context) GenerateFault(code onviferr.FaultCode, reason, detail string) {
	c.response.Reset()
	c.response.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	c.response.WriteString(`<soap:Envelope xmlns:soap="` + soap12NS + `">`)
	c.response.WriteString(`<soap:Body>`)
	c.response.WriteString(`<soap:Fault>`)
	c.response.WriteString(`<soap:Code><soap:Value>` + string(code) + `</soap:Value></soap:Code>`)
	c.response.WriteString(`<soap:Reason><soap:Text xml:lang="en">` + escapeXML(reason) + `</soap:Text></soap:Reason>`)
	if detail != "" {
		c.response.WriteString(`<soap:Detail>` + escapeXML(detail) + `</soap:Detail>`)
	}
	c.response.WriteString(`</soap:Fault>`)
	c.response.WriteString(`</soap:Body>`)
	c.response.WriteString(`</soap:Envelope>`)
}

// GenerateFaultFromError is a convenience wrapper around GenerateFault that
// derives the fault code from an onviferr.Error.
func (c *Context) GenerateFaultFromError(err *onviferr.Error) {
	detail := ""
	if err.Detail != "" {
		detail = err.Detail
	}
	c.GenerateFault(err.FaultCode(), err.Reason, detail)
}

// ResponseData borrows the serialized response bytes. Valid until the
// Context is discarded.
func (c *Context) ResponseData() []byte {
	return c.response.Bytes()
}

// ResponseLength returns len(ResponseData()).
func (c *Context) ResponseLength() int {
	return c.response.Len()
}

// Cleanup releases per-request memory. Safe to call multiple times.
func (c *Context) Cleanup() {
	c.operation = ""
	c.bodyXML = nil
	c.response.Reset()
}

// EscapeXML escapes s for inclusion as XML character data. Exported so
// service response builders can safely embed user-controlled strings
// (hostnames, scope names, user names) into generated response XML.
func EscapeXML(s string) string {
	return escapeXML(s)
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
