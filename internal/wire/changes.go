package wire

// ChangesRequest is one outbound round against the changes endpoint.
type ChangesRequest struct {
	Nodes           []NodeRecord  `json:"nodes"`
	ClientTimestamp string        `json:"clientTimestamp"`
	RequestHeader   RequestHeader `json:"requestHeader"`
	TargetVersion   string        `json:"targetVersion,omitempty"`
	UserInfo        *UserInfo     `json:"userInfo,omitempty"`
}

// RequestHeader identifies the client session and its advertised capabilities.
type RequestHeader struct {
	ClientSessionID string        `json:"clientSessionId"`
	ClientPlatform  string        `json:"clientPlatform"`
	ClientVersion   ClientVersion `json:"clientVersion"`
	Capabilities    []Capability  `json:"capabilities"`
}

// ClientVersion is the advertised client version 4-tuple.
type ClientVersion struct {
	Major    string `json:"major"`
	Minor    string `json:"minor"`
	Build    string `json:"build"`
	Revision string `json:"revision"`
}

// Capability advertises one supported feature.
type Capability struct {
	Type string `json:"type"`
}

// UserInfo carries the label set. Inbound it is the authoritative complete
// set; outbound it is present only when a label is dirty.
type UserInfo struct {
	Labels []LabelRecord `json:"labels,omitempty"`
}

// LabelRecord is the wire form of a label.
type LabelRecord struct {
	MainID     string            `json:"mainId"`
	Name       string            `json:"name"`
	Timestamps *TimestampsRecord `json:"timestamps,omitempty"`
	LastMerged string            `json:"lastMerged,omitempty"`
}

// ChangesResponse is one inbound round. ToVersion is required; everything
// else is optional.
type ChangesResponse struct {
	ToVersion          string       `json:"toVersion"`
	Truncated          bool         `json:"truncated,omitempty"`
	ForceFullResync    bool         `json:"forceFullResync,omitempty"`
	UpgradeRecommended bool         `json:"upgradeRecommended,omitempty"`
	UserInfo           *UserInfo    `json:"userInfo,omitempty"`
	Nodes              []NodeRecord `json:"nodes,omitempty"`
}

// ErrorEnvelope is the structured error body returned on non-2xx responses.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the server's error code and status string.
type ErrorBody struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
}
