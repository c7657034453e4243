package gateway

// clientFrame is the union of every JSON field any client→server frame may
// carry (§4.5). The Type discriminator selects which subset is meaningful;
// unknown types are logged and ignored per §6's forward-compatibility rule.
type clientFrame struct {
	Type string `json:"type"`

	// hello
	Version   int            `json:"version,omitempty"`
	Transport string         `json:"transport,omitempty"`
	Features  map[string]any `json:"features,omitempty"`

	// listen
	State     string `json:"state,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Text      string `json:"text,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// text
	Content string `json:"content,omitempty"`

	// abort
	Reason string `json:"reason,omitempty"`

	// mcp (opaque pass-through, §9 Open Questions)
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// audioParams describes the negotiated audio format, echoed back on hello
// (Opus-only, 16 kHz mono by design — §4.5).
type audioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// helloFrame is the server's reply to a client hello, echoing the
// negotiated transport and audio parameters.
type helloFrame struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams audioParams `json:"audio_params"`
}

// protocolErrorFrame is sent when a frame arrives out of order (e.g. before
// hello) or fails to parse.
type protocolErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newProtocolError(message string) protocolErrorFrame {
	return protocolErrorFrame{Type: "error", Code: "protocol", Message: message}
}

// mcpResultFrame carries an executed tool call's result back to the client
// over the same opaque "mcp" type the request arrived on.
type mcpResultFrame struct {
	Type    string `json:"type"`
	Server  string `json:"server,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	negotiatedAudioFormat        = "opus"
	negotiatedAudioSampleRate    = 16000
	negotiatedAudioChannels      = 1
	negotiatedAudioFrameDuration = 60 // ms, §6
	protocolVersion              = 1
)
