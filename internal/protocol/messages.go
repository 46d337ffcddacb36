package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
	MaxInFlight     int        `json:"max_in_flight,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	PlayerUID       string `json:"player_uid"`
	Admin           bool   `json:"admin,omitempty"`
	ServerID        string `json:"server_id,omitempty"`
	CommunityID     string `json:"community_id,omitempty"`
}

// REQUEST (client -> server). Params are positional; their JSON kinds
// map one-to-one onto ParamType (see Value).
type RequestMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Params          []json.RawMessage `json:"params"`
}

// RESPONSE (server -> client). Params[0] always repeats Code.
type ResponseMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Code            Code    `json:"code"`
	Params          []Value `json:"params"`
}

// ERROR (server -> client): frame-level rejection, sent when a frame
// cannot be turned into a request at all.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// DecodeParams decodes raw positional params. A param that is not valid
// JSON fails the whole frame; kind checks happen later in schema validation.
func DecodeParams(raw []json.RawMessage) ([]Value, error) {
	out := make([]Value, 0, len(raw))
	for _, r := range raw {
		var v Value
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EncodeParams is the inverse of DecodeParams, used by clients.
func EncodeParams(values []Value) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
