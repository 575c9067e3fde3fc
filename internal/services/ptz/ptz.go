// Package ptz implements the ONVIF PTZ service: node/configuration
// metadata, absolute/relative/continuous moves, and preset management.
package ptz

import (
	"fmt"
	"sync"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/hwfacade"
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/services"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

// Namespace is the ONVIF PTZ WSDL namespace URI.
const Namespace = "http://www.onvif.org/ver20/ptz/wsdl"

// NodeToken and ConfigurationToken are the single PTZ node/configuration
// this camera exposes; Profile-S cameras have exactly one physical head.
const (
	NodeToken          = "PTZNode_1"
	ConfigurationToken = "PTZConfig_1"
)

// defaultSpeed is substituted whenever AbsoluteMove/RelativeMove omit an
// explicit Speed element.
var defaultSpeed = hwfacade.PTZVector{Pan: 0.5, Tilt: 0.5, Zoom: 0.0}

// Handler implements dispatcher.OperationHandler for the PTZ service.
type Handler struct {
	conf *conf.Conf
	hw   hwfacade.Facade

	mutex  sync.Mutex
	tokens map[string]struct{} // preset tokens issued so far, for auto-naming
	nextID int

	table services.Table
}

// New builds a PTZ handler backed by hw, reading the device IP/port it
// advertises in Capabilities from cfg.
func New(cfg *conf.Conf, hw hwfacade.Facade) *Handler {
	h := &Handler{conf: cfg, hw: hw, tokens: make(map[string]struct{})}
	h.table = services.Table{
		{Name: "GetNodes", Fn: h.getNodes},
		{Name: "GetNode", Fn: h.getNode},
		{Name: "GetConfiguration", Fn: h.getConfiguration},
		{Name: "GetConfigurations", Fn: h.getConfigurations},
		{Name: "GetStatus", Fn: h.getStatus},
		{Name: "AbsoluteMove", Fn: h.absoluteMove},
		{Name: "RelativeMove", Fn: h.relativeMove},
		{Name: "ContinuousMove", Fn: h.continuousMove},
		{Name: "Stop", Fn: h.stop},
		{Name: "GetPresets", Fn: h.getPresets},
		{Name: "SetPreset", Fn: h.setPreset},
		{Name: "GotoPreset", Fn: h.gotoPreset},
		{Name: "RemovePreset", Fn: h.removePreset},
		{Name: "GotoHomePosition", Fn: h.gotoHomePosition},
		{Name: "SetHomePosition", Fn: h.setHomePosition},
	}
	return h
}

// Handle implements dispatcher.OperationHandler.
func (h *Handler) Handle(ctx *soapcontext.Context, operation string) error {
	return h.table.Dispatch(ctx, operation)
}

// Capabilities returns the PTZ service's capability fragment.
func (h *Handler) Capabilities() []byte {
	snap := h.conf.Snapshot()
	return []byte(fmt.Sprintf(`<tptz:PTZ><tptz:XAddr>http://%s:%d/onvif/ptz_service</tptz:XAddr></tptz:PTZ>`,
		snap.Network.DeviceIP, snap.OnvifHTTPPort))
}

func (h *Handler) getNodes(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(fmt.Sprintf(
		`<tptz:GetNodesResponse><tptz:PTZNode token="%s"><tt:Name>Main</tt:Name><tt:MaximumNumberOfPresets>256</tt:MaximumNumberOfPresets></tptz:PTZNode></tptz:GetNodesResponse>`,
		NodeToken)))
	return nil
}

func (h *Handler) getNode(ctx *soapcontext.Context) error {
	var req struct {
		NodeToken string `xml:"NodeToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}
	if req.NodeToken != NodeToken {
		return onviferr.NotFound("unknown PTZ node: %s", req.NodeToken)
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(
		`<tptz:GetNodeResponse><tptz:PTZNode token="%s"><tt:Name>Main</tt:Name></tptz:PTZNode></tptz:GetNodeResponse>`, NodeToken)))
	return nil
}

func (h *Handler) getConfiguration(ctx *soapcontext.Context) error {
	var req struct {
		PTZConfigurationToken string `xml:"PTZConfigurationToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}
	if req.PTZConfigurationToken != ConfigurationToken {
		return onviferr.NotFound("unknown PTZ configuration: %s", req.PTZConfigurationToken)
	}
	ctx.GenerateResponse([]byte(configurationXML()))
	return nil
}

func (h *Handler) getConfigurations(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<tptz:GetConfigurationsResponse>%s</tptz:GetConfigurationsResponse>`, configurationFragment())))
	return nil
}

func configurationXML() string {
	return fmt.Sprintf(`<tptz:GetConfigurationResponse>%s</tptz:GetConfigurationResponse>`, configurationFragment())
}

func configurationFragment() string {
	return fmt.Sprintf(`<tptz:PTZConfiguration token="%s"><tt:Name>PTZ Configuration</tt:Name><tt:NodeToken>%s</tt:NodeToken></tptz:PTZConfiguration>`,
		ConfigurationToken, NodeToken)
}

func (h *Handler) getStatus(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(
		`<tptz:GetStatusResponse><tptz:PTZStatus><tt:MoveStatus><tt:PanTilt>IDLE</tt:PanTilt><tt:Zoom>IDLE</tt:Zoom></tt:MoveStatus></tptz:PTZStatus></tptz:GetStatusResponse>`))
	return nil
}

type vectorArg struct {
	PanTilt struct {
		X float64 `xml:"x,attr"`
		Y float64 `xml:"y,attr"`
	} `xml:"PanTilt"`
	Zoom struct {
		X float64 `xml:"x,attr"`
	} `xml:"Zoom"`
}

func (v vectorArg) toVector() hwfacade.PTZVector {
	return hwfacade.PTZVector{Pan: v.PanTilt.X, Tilt: v.PanTilt.Y, Zoom: v.Zoom.X}
}

func (h *Handler) absoluteMove(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string    `xml:"ProfileToken"`
		Position     vectorArg `xml:"Position"`
		Speed        *vectorArg `xml:"Speed"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	speed := defaultSpeed
	if req.Speed != nil {
		speed = req.Speed.toVector()
	}

	if err := h.hw.PTZAbsoluteMove(req.Position.toVector(), speed); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(`<tptz:AbsoluteMoveResponse/>`))
	return nil
}

func (h *Handler) relativeMove(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string     `xml:"ProfileToken"`
		Translation  vectorArg  `xml:"Translation"`
		Speed        *vectorArg `xml:"Speed"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	speed := defaultSpeed
	if req.Speed != nil {
		speed = req.Speed.toVector()
	}

	if err := h.hw.PTZRelativeMove(req.Translation.toVector(), speed); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(`<tptz:RelativeMoveResponse/>`))
	return nil
}

func (h *Handler) continuousMove(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string    `xml:"ProfileToken"`
		Velocity     vectorArg `xml:"Velocity"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	if err := h.hw.PTZContinuousMove(req.Velocity.toVector()); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(`<tptz:ContinuousMoveResponse/>`))
	return nil
}

func (h *Handler) stop(ctx *soapcontext.Context) error {
	if err := h.hw.PTZStop(); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}
	ctx.GenerateResponse([]byte(`<tptz:StopResponse/>`))
	return nil
}

func (h *Handler) getPresets(ctx *soapcontext.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var frags string
	for token := range h.tokens {
		frags += fmt.Sprintf(`<tptz:Preset token="%s"><tt:Name>%s</tt:Name></tptz:Preset>`, token, token)
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<tptz:GetPresetsResponse>%s</tptz:GetPresetsResponse>`, frags)))
	return nil
}

func (h *Handler) setPreset(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
		PresetName   string `xml:"PresetName"`
		PresetToken  string `xml:"PresetToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	h.mutex.Lock()
	token := req.PresetToken
	if token == "" {
		h.nextID++
		token = fmt.Sprintf("Preset_%d", h.nextID)
	}
	h.tokens[token] = struct{}{}
	h.mutex.Unlock()

	if err := h.hw.PTZSetPreset(token, hwfacade.PTZVector{}); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(fmt.Sprintf(`<tptz:SetPresetResponse><tptz:PresetToken>%s</tptz:PresetToken></tptz:SetPresetResponse>`, token)))
	return nil
}

func (h *Handler) gotoPreset(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
		PresetToken  string `xml:"PresetToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	h.mutex.Lock()
	_, known := h.tokens[req.PresetToken]
	h.mutex.Unlock()
	if !known {
		return onviferr.NotFound("unknown PTZ preset token: %s", req.PresetToken)
	}

	if err := h.hw.PTZGotoPreset(req.PresetToken); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(`<tptz:GotoPresetResponse/>`))
	return nil
}

func (h *Handler) removePreset(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
		PresetToken  string `xml:"PresetToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	h.mutex.Lock()
	_, known := h.tokens[req.PresetToken]
	delete(h.tokens, req.PresetToken)
	h.mutex.Unlock()
	if !known {
		return onviferr.NotFound("unknown PTZ preset token: %s", req.PresetToken)
	}

	if err := h.hw.PTZRemovePreset(req.PresetToken); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(`<tptz:RemovePresetResponse/>`))
	return nil
}

func (h *Handler) gotoHomePosition(ctx *soapcontext.Context) error {
	if err := h.hw.PTZAbsoluteMove(hwfacade.PTZVector{}, defaultSpeed); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}
	ctx.GenerateResponse([]byte(`<tptz:GotoHomePositionResponse/>`))
	return nil
}

func (h *Handler) setHomePosition(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(`<tptz:SetHomePositionResponse/>`))
	return nil
}
