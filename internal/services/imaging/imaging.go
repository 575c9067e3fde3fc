// Package imaging implements the ONVIF Imaging service: brightness,
// contrast, saturation, sharpness, and hue, translated from the ONVIF-level
// [0,100]/[-180,180] ranges to the Hardware Facade's native ranges.
package imaging

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/hwfacade"
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/services"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/stats"
)

// Namespace is the ONVIF Imaging WSDL namespace URI.
const Namespace = "http://www.onvif.org/ver20/imaging/wsdl"

// Handler implements dispatcher.OperationHandler for the Imaging service.
// It serializes parameter changes with mutex so partial SetImagingSettings
// batches cannot interleave with each other or with GetImagingSettings.
type Handler struct {
	conf  *conf.Conf
	hw    hwfacade.Facade
	stats *stats.Stats

	mutex    sync.Mutex
	lastSent conf.Imaging
	haveSent bool

	table services.Table
}

// New builds an Imaging handler backed by cfg and hw, recording batch-diff
// efficiency counters into st.
func New(cfg *conf.Conf, hw hwfacade.Facade, st *stats.Stats) *Handler {
	h := &Handler{conf: cfg, hw: hw, stats: st}
	h.table = services.Table{
		{Name: "GetImagingSettings", Fn: h.getImagingSettings},
		{Name: "SetImagingSettings", Fn: h.setImagingSettings},
		{Name: "GetOptions", Fn: h.getOptions},
	}
	return h
}

// Handle implements dispatcher.OperationHandler.
func (h *Handler) Handle(ctx *soapcontext.Context, operation string) error {
	return h.table.Dispatch(ctx, operation)
}

// Capabilities returns the Imaging service's capability fragment.
func (h *Handler) Capabilities() []byte {
	snap := h.conf.Snapshot()
	return []byte(fmt.Sprintf(`<tt:Imaging><tt:XAddr>http://%s:%d/onvif/imaging_service</tt:XAddr></tt:Imaging>`,
		snap.Network.DeviceIP, snap.OnvifHTTPPort))
}

func imagingXML(i conf.Imaging) string {
	return fmt.Sprintf(
		`<tt:ImagingSettings><tt:Brightness>%d</tt:Brightness><tt:Contrast>%d</tt:Contrast>`+
			`<tt:ColorSaturation>%d</tt:ColorSaturation><tt:Sharpness>%d</tt:Sharpness>`+
			`<tt:ColorSpace><tt:Hue>%d</tt:Hue></tt:ColorSpace></tt:ImagingSettings>`,
		i.Brightness, i.Contrast, i.Saturation, i.Sharpness, i.Hue)
}

func (h *Handler) getImagingSettings(ctx *soapcontext.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	snap := h.conf.Snapshot()
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<tt:GetImagingSettingsResponse>%s</tt:GetImagingSettingsResponse>`, imagingXML(snap.Imaging))))
	return nil
}

func (h *Handler) setImagingSettings(ctx *soapcontext.Context) error {
	var req struct {
		ImagingSettings struct {
			Brightness *int `xml:"Brightness"`
			Contrast   *int `xml:"Contrast"`
			ColorSaturation *int `xml:"ColorSaturation"`
			Sharpness  *int `xml:"Sharpness"`
			ColorSpace struct {
				Hue *int `xml:"Hue"`
			} `xml:"ColorSpace"`
		} `xml:"ImagingSettings"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	snap := h.conf.Snapshot()
	next := snap.Imaging

	if req.ImagingSettings.Brightness != nil {
		next.Brightness = *req.ImagingSettings.Brightness
	}
	if req.ImagingSettings.Contrast != nil {
		next.Contrast = *req.ImagingSettings.Contrast
	}
	if req.ImagingSettings.ColorSaturation != nil {
		next.Saturation = *req.ImagingSettings.ColorSaturation
	}
	if req.ImagingSettings.Sharpness != nil {
		next.Sharpness = *req.ImagingSettings.Sharpness
	}
	if req.ImagingSettings.ColorSpace.Hue != nil {
		next.Hue = *req.ImagingSettings.ColorSpace.Hue
	}

	if err := validateImaging(next); err != nil {
		return err
	}

	if err := h.applyToHardware(next); err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	h.conf.SetImaging(next)
	h.lastSent = next
	h.haveSent = true

	ctx.GenerateResponse([]byte(`<tt:SetImagingSettingsResponse/>`))
	return nil
}

func validateImaging(i conf.Imaging) error {
	for _, v := range []int{i.Brightness, i.Contrast, i.Saturation, i.Sharpness} {
		if v < 0 || v > 100 {
			return onviferr.Invalid("imaging parameter out of range [0,100]: %d", v)
		}
	}
	if i.Hue < -180 || i.Hue > 180 {
		return onviferr.Invalid("hue out of range [-180,180]: %d", i.Hue)
	}
	return nil
}

// applyToHardware forwards only parameters that changed since the last
// applied snapshot, counted for the efficiency statistics the spec
// requires (CountImagingParamsChanged/Unchanged) without being an
// externally observable behavior difference.
func (h *Handler) applyToHardware(next conf.Imaging) error {
	changes := []struct {
		effect hwfacade.Effect
		level  int
		before int
	}{
		{hwfacade.EffectBrightness, toHardwareLevel(next.Brightness), toHardwareLevel(h.lastSent.Brightness)},
		{hwfacade.EffectContrast, toHardwareLevel(next.Contrast), toHardwareLevel(h.lastSent.Contrast)},
		{hwfacade.EffectSaturation, toHardwareLevel(next.Saturation), toHardwareLevel(h.lastSent.Saturation)},
		{hwfacade.EffectSharpness, toHardwareLevel(next.Sharpness), toHardwareLevel(h.lastSent.Sharpness)},
		{hwfacade.EffectHue, toHardwareHue(next.Hue), toHardwareHue(h.lastSent.Hue)},
	}

	for _, c := range changes {
		if h.haveSent && c.level == c.before {
			atomic.AddInt64(h.stats.CountImagingParamsUnchanged, 1)
			continue
		}
		atomic.AddInt64(h.stats.CountImagingParamsChanged, 1)
		if err := h.hw.VPSSEffectSet(c.effect, c.level); err != nil {
			return err
		}
	}
	return nil
}

// toHardwareLevel halves an ONVIF [0,100] parameter into the platform's
// native range.
func toHardwareLevel(v int) int {
	return v / 2
}

// toHardwareHue maps ONVIF [-180,180] hue to the platform's [-50,50] range.
func toHardwareHue(v int) int {
	return v * 50 / 180
}

func (h *Handler) getOptions(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(
		`<tt:GetOptionsResponse><tt:ImagingOptions>` +
			`<tt:Brightness><tt:Min>0</tt:Min><tt:Max>100</tt:Max></tt:Brightness>` +
			`<tt:Contrast><tt:Min>0</tt:Min><tt:Max>100</tt:Max></tt:Contrast>` +
			`<tt:ColorSaturation><tt:Min>0</tt:Min><tt:Max>100</tt:Max></tt:ColorSaturation>` +
			`<tt:Sharpness><tt:Min>0</tt:Min><tt:Max>100</tt:Max></tt:Sharpness>` +
			`<tt:ColorSpace><tt:Hue><tt:Min>-180</tt:Min><tt:Max>180</tt:Max></tt:Hue></tt:ColorSpace>` +
			`</tt:ImagingOptions></tt:GetOptionsResponse>`))
	return nil
}
