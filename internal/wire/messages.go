package wire

// MessageType selects which command schema a frame's payload follows.
type MessageType uint64

// The command set. Type 0 and its request/response shape are frozen
// forever; it is the one message immune to protocol evolution.
const (
	TypeProtocolVersion MessageType = 0
	TypeStop            MessageType = 1
	TypeRestart         MessageType = 2
	TypeStatus          MessageType = 3
	TypeSendCommand     MessageType = 4
	TypeTimings         MessageType = 5
	TypeLogs            MessageType = 6
	TypeEndLogs         MessageType = 7
	TypeConsoleStatus   MessageType = 8
	TypeTabComplete     MessageType = 9
)

// ProtocolVersion is negotiated once per connection before any other
// command is honored.
const ProtocolVersion = 1

func (t MessageType) String() string {
	switch t {
	case TypeProtocolVersion:
		return "protocol-version"
	case TypeStop:
		return "stop"
	case TypeRestart:
		return "restart"
	case TypeStatus:
		return "status"
	case TypeSendCommand:
		return "send-command"
	case TypeTimings:
		return "timings"
	case TypeLogs:
		return "logs"
	case TypeEndLogs:
		return "end-logs"
	case TypeConsoleStatus:
		return "console-status"
	case TypeTabComplete:
		return "tab-complete"
	}
	return "unknown"
}

// VersionResponse is the type 0 response. Frozen.
type VersionResponse struct {
	ProtocolVersion int `json:"protocolVersion"`
}

// SendCommandRequest is the type 4 request.
type SendCommandRequest struct {
	Message string `json:"message"`
}

// TimingsResponse is one element of the type 5 response stream. The
// stream terminates with the first response carrying Done=true.
type TimingsResponse struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// LogsRequest is the type 6 request; PID identifies the subscriber so
// the subscription can later be torn down by an EndLogsRequest.
type LogsRequest struct {
	PID int `json:"pid"`
}

// LogsResponse is one log line pushed to a subscriber.
type LogsResponse struct {
	Message string `json:"message"`
}

// EndLogsRequest is the type 7 request.
type EndLogsRequest struct {
	PID int `json:"pid"`
}

// TabCompleteRequest is the type 9 request.
type TabCompleteRequest struct {
	Command string `json:"command"`
}

// TabCompleteResponse is the type 9 response.
type TabCompleteResponse struct {
	Suggestions []string `json:"suggestions"`
}

// StatusResponse is the type 3 response.
type StatusResponse struct {
	MOTD          string        `json:"motd"`
	ServerName    string        `json:"serverName"`
	ServerVersion string        `json:"serverVersion"`
	APIVersion    string        `json:"apiVersion"`
	Players       []string      `json:"players"`
	Worlds        []WorldStatus `json:"worlds"`
	TPS           TPSStatus     `json:"tps"`
	MemoryUsage   MemoryStatus  `json:"memoryUsage"`
}

// WorldStatus describes one loaded world.
type WorldStatus struct {
	Name       string   `json:"name"`
	Dimension  string   `json:"dimension"`
	Seed       int64    `json:"seed"`
	Difficulty string   `json:"difficulty"`
	Players    []string `json:"players"`
	Time       string   `json:"time"`
}

// TPSStatus holds the 1/5/15 minute tick-rate averages.
type TPSStatus struct {
	OneMin     float64 `json:"oneMin"`
	FiveMin    float64 `json:"fiveMin"`
	FifteenMin float64 `json:"fifteenMin"`
}

// MemoryStatus holds human-readable JVM memory figures.
type MemoryStatus struct {
	UsedMemory  string `json:"usedMemory"`
	TotalMemory string `json:"totalMemory"`
	MaxMemory   string `json:"maxMemory"`
}

// ConsoleStatusResponse is the type 8 response, the compact form used
// by status bars.
type ConsoleStatusResponse struct {
	ServerName string  `json:"serverName"`
	Players    int     `json:"players"`
	MaxPlayers int     `json:"maxPlayers"`
	TPS        float64 `json:"tps"`
}

// ServerError is the error shape the daemon may answer any request
// with. Shutdown=true means the daemon is going away and the client
// should not treat the condition as a failure.
type ServerError struct {
	Error    string `json:"error,omitempty"`
	Shutdown bool   `json:"shutdown"`
}
