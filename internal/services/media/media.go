// Package media implements the ONVIF Media service: profile lifecycle,
// stream/snapshot URIs, and video/audio source and encoder configuration.
package media

import (
	"fmt"

	"github.com/ocamdaemon/onvifd/internal/conf"
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/services"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
	"github.com/ocamdaemon/onvifd/internal/streamfacade"
)

// Namespace is the ONVIF Media WSDL namespace URI.
const Namespace = "http://www.onvif.org/ver10/media/wsdl"

// MaxProfiles is the hard upper bound on Media profiles the spec's
// CreateProfile must enforce.
const MaxProfiles = 4

// Handler implements dispatcher.OperationHandler for the Media service.
type Handler struct {
	conf    *conf.Conf
	streams streamfacade.Facade
	table   services.Table
}

// New builds a Media handler backed by cfg and streams.
func New(cfg *conf.Conf, streams streamfacade.Facade) *Handler {
	h := &Handler{conf: cfg, streams: streams}
	h.table = services.Table{
		{Name: "GetProfiles", Fn: h.getProfiles},
		{Name: "GetProfile", Fn: h.getProfile},
		{Name: "CreateProfile", Fn: h.createProfile},
		{Name: "DeleteProfile", Fn: h.deleteProfile},
		{Name: "GetStreamUri", Fn: h.getStreamUri},
		{Name: "GetSnapshotUri", Fn: h.getSnapshotUri},
		{Name: "GetVideoSources", Fn: h.getVideoSources},
		{Name: "GetAudioSources", Fn: h.getAudioSources},
		{Name: "GetVideoEncoderConfigurations", Fn: h.getVideoEncoderConfigurations},
		{Name: "GetVideoEncoderConfiguration", Fn: h.getVideoEncoderConfiguration},
		{Name: "SetVideoEncoderConfiguration", Fn: h.setVideoEncoderConfiguration},
		{Name: "GetVideoEncoderConfigurationOptions", Fn: h.getVideoEncoderConfigurationOptions},
		{Name: "GetMetadataConfigurations", Fn: h.getMetadataConfigurations},
	}
	return h
}

// Handle implements dispatcher.OperationHandler.
func (h *Handler) Handle(ctx *soapcontext.Context, operation string) error {
	return h.table.Dispatch(ctx, operation)
}

// Capabilities returns the Media service's capability fragment.
func (h *Handler) Capabilities() []byte {
	snap := h.conf.Snapshot()
	return []byte(fmt.Sprintf(`<trt:Media><trt:XAddr>http://%s:%d/onvif/media_service</trt:XAddr></trt:Media>`,
		snap.Network.DeviceIP, snap.OnvifHTTPPort))
}

func profileXML(p conf.StreamProfile) string {
	return fmt.Sprintf(
		`<trt:Profiles token="%s" fixed="%t"><tt:Name>%s</tt:Name>`+
			`<tt:VideoEncoderConfiguration><tt:Encoding>%s</tt:Encoding><tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution>`+
			`<tt:RateControl><tt:FrameRateLimit>%d</tt:FrameRateLimit><tt:BitrateLimit>%d</tt:BitrateLimit></tt:RateControl></tt:VideoEncoderConfiguration>`+
			`</trt:Profiles>`,
		p.Token, p.Fixed, soapcontext.EscapeXML(p.Name), p.Encoding, p.Width, p.Height, p.FrameRate, p.Bitrate)
}

func (h *Handler) getProfiles(ctx *soapcontext.Context) error {
	snap := h.conf.Snapshot()
	var frags string
	for _, p := range snap.StreamProfiles {
		if p.Token == "" {
			continue
		}
		frags += profileXML(p)
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<trt:GetProfilesResponse>%s</trt:GetProfilesResponse>`, frags)))
	return nil
}

func (h *Handler) findProfile(token string) (conf.StreamProfile, int, error) {
	snap := h.conf.Snapshot()
	for i, p := range snap.StreamProfiles {
		if p.Token == token {
			return p, i, nil
		}
	}
	return conf.StreamProfile{}, -1, onviferr.NotFound("unknown profile token: %s", token)
}

func (h *Handler) getProfile(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	p, _, err := h.findProfile(req.ProfileToken)
	if err != nil {
		return err
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<trt:GetProfileResponse>%s</trt:GetProfileResponse>`, profileXML(p))))
	return nil
}

func (h *Handler) createProfile(ctx *soapcontext.Context) error {
	var req struct {
		Name  string `xml:"Name"`
		Token string `xml:"Token"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}
	if req.Name == "" {
		return onviferr.Invalid("Name is required")
	}

	snap := h.conf.Snapshot()
	slot := -1
	for i, p := range snap.StreamProfiles {
		if p.Token == "" {
			slot = i
			break
		}
	}
	if slot == -1 {
		return onviferr.New(onviferr.KindInvalid, "profile limit reached: max %d profiles", MaxProfiles)
	}

	token := req.Token
	if token == "" {
		token = fmt.Sprintf("Profile_%d", slot+1)
	}

	np := conf.StreamProfile{
		Token: token, Name: req.Name, Fixed: false,
		Width: 1920, Height: 1080, FrameRate: 25, Bitrate: 4096, Encoding: "H264",
	}
	snap.StreamProfiles[slot] = np
	h.conf.ReplaceStreamProfiles(snap.StreamProfiles)

	ctx.GenerateResponse([]byte(fmt.Sprintf(`<trt:CreateProfileResponse>%s</trt:CreateProfileResponse>`, profileXML(np))))
	return nil
}

func (h *Handler) deleteProfile(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	p, idx, err := h.findProfile(req.ProfileToken)
	if err != nil {
		return err
	}
	if p.Fixed {
		return onviferr.Invalid("cannot delete fixed profile: %s", req.ProfileToken)
	}

	snap := h.conf.Snapshot()
	snap.StreamProfiles[idx] = conf.StreamProfile{}
	h.conf.ReplaceStreamProfiles(snap.StreamProfiles)
	h.streams.InvalidateCache(req.ProfileToken)

	ctx.GenerateResponse([]byte(`<trt:DeleteProfileResponse/>`))
	return nil
}

func (h *Handler) getStreamUri(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}
	if _, _, err := h.findProfile(req.ProfileToken); err != nil {
		return err
	}

	uri, err := h.streams.BuildStreamURI(req.ProfileToken, streamfacade.ProtocolRTSP)
	if err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(fmt.Sprintf(
		`<trt:GetStreamUriResponse><trt:MediaUri><tt:Uri>%s</tt:Uri><tt:InvalidAfterConnect>false</tt:InvalidAfterConnect><tt:InvalidAfterReboot>false</tt:InvalidAfterReboot><tt:Timeout>PT60S</tt:Timeout></trt:MediaUri></trt:GetStreamUriResponse>`,
		soapcontext.EscapeXML(uri))))
	return nil
}

func (h *Handler) getSnapshotUri(ctx *soapcontext.Context) error {
	var req struct {
		ProfileToken string `xml:"ProfileToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}
	if _, _, err := h.findProfile(req.ProfileToken); err != nil {
		return err
	}

	uri, err := h.streams.BuildSnapshotURI(req.ProfileToken)
	if err != nil {
		return onviferr.Wrap(onviferr.KindIO, err)
	}

	ctx.GenerateResponse([]byte(fmt.Sprintf(
		`<trt:GetSnapshotUriResponse><trt:MediaUri><tt:Uri>%s</tt:Uri></trt:MediaUri></trt:GetSnapshotUriResponse>`,
		soapcontext.EscapeXML(uri))))
	return nil
}

func (h *Handler) getVideoSources(ctx *soapcontext.Context) error {
	snap := h.conf.Snapshot()
	first := snap.StreamProfiles[0]
	ctx.GenerateResponse([]byte(fmt.Sprintf(
		`<trt:GetVideoSourcesResponse><tt:VideoSources token="VideoSource_1"><tt:Framerate>%d</tt:Framerate><tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution></tt:VideoSources></trt:GetVideoSourcesResponse>`,
		first.FrameRate, first.Width, first.Height)))
	return nil
}

func (h *Handler) getAudioSources(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(`<trt:GetAudioSourcesResponse/>`))
	return nil
}

func (h *Handler) getVideoEncoderConfigurations(ctx *soapcontext.Context) error {
	snap := h.conf.Snapshot()
	var frags string
	for _, p := range snap.StreamProfiles {
		if p.Token == "" {
			continue
		}
		frags += videoEncoderConfigXML(p)
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<trt:GetVideoEncoderConfigurationsResponse>%s</trt:GetVideoEncoderConfigurationsResponse>`, frags)))
	return nil
}

func videoEncoderConfigXML(p conf.StreamProfile) string {
	return fmt.Sprintf(
		`<trt:Configurations token="%s"><tt:Name>%s</tt:Name><tt:Encoding>%s</tt:Encoding>`+
			`<tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution>`+
			`<tt:RateControl><tt:FrameRateLimit>%d</tt:FrameRateLimit><tt:BitrateLimit>%d</tt:BitrateLimit></tt:RateControl></trt:Configurations>`,
		p.Token, soapcontext.EscapeXML(p.Name), p.Encoding, p.Width, p.Height, p.FrameRate, p.Bitrate)
}

func (h *Handler) getVideoEncoderConfiguration(ctx *soapcontext.Context) error {
	var req struct {
		ConfigurationToken string `xml:"ConfigurationToken"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	p, _, err := h.findProfile(req.ConfigurationToken)
	if err != nil {
		return err
	}
	ctx.GenerateResponse([]byte(fmt.Sprintf(`<trt:GetVideoEncoderConfigurationResponse>%s</trt:GetVideoEncoderConfigurationResponse>`, videoEncoderConfigXML(p))))
	return nil
}

func (h *Handler) setVideoEncoderConfiguration(ctx *soapcontext.Context) error {
	var req struct {
		Configuration struct {
			Token      string `xml:"token,attr"`
			Resolution struct {
				Width  int `xml:"Width"`
				Height int `xml:"Height"`
			} `xml:"Resolution"`
			RateControl struct {
				FrameRateLimit int `xml:"FrameRateLimit"`
				BitrateLimit   int `xml:"BitrateLimit"`
			} `xml:"RateControl"`
		} `xml:"Configuration"`
	}
	if err := ctx.DecodeArgs(&req); err != nil {
		return err
	}

	_, idx, err := h.findProfile(req.Configuration.Token)
	if err != nil {
		return err
	}

	snap := h.conf.Snapshot()
	p := &snap.StreamProfiles[idx]
	if req.Configuration.Resolution.Width > 0 {
		p.Width = req.Configuration.Resolution.Width
	}
	if req.Configuration.Resolution.Height > 0 {
		p.Height = req.Configuration.Resolution.Height
	}
	if req.Configuration.RateControl.FrameRateLimit > 0 {
		p.FrameRate = req.Configuration.RateControl.FrameRateLimit
	}
	if req.Configuration.RateControl.BitrateLimit > 0 {
		p.Bitrate = req.Configuration.RateControl.BitrateLimit
	}
	h.conf.ReplaceStreamProfiles(snap.StreamProfiles)
	h.streams.InvalidateCache(req.Configuration.Token)

	ctx.GenerateResponse([]byte(`<trt:SetVideoEncoderConfigurationResponse/>`))
	return nil
}

func (h *Handler) getVideoEncoderConfigurationOptions(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(
		`<trt:GetVideoEncoderConfigurationOptionsResponse><trt:Options>` +
			`<tt:H264><tt:ResolutionsAvailable><tt:Width>1920</tt:Width><tt:Height>1080</tt:Height></tt:ResolutionsAvailable>` +
			`<tt:FrameRateRange><tt:Min>1</tt:Min><tt:Max>30</tt:Max></tt:FrameRateRange></tt:H264>` +
			`</trt:Options></trt:GetVideoEncoderConfigurationOptionsResponse>`))
	return nil
}

func (h *Handler) getMetadataConfigurations(ctx *soapcontext.Context) error {
	ctx.GenerateResponse([]byte(`<trt:GetMetadataConfigurationsResponse/>`))
	return nil
}
