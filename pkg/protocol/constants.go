package protocol

// Path and naming constants shared by the hub and satellites.
const (
	// NabDir is the user-level state directory (e.g., ~/.nab).
	NabDir = ".nab"

	// SocketName is the hub's Unix-domain socket file name inside NabDir.
	SocketName = "nab.sock"

	// StateDBName is the SQLite database shared by the hub event log and
	// the default ConfigStore.
	StateDBName = "state.db"

	// ConfigName is the default runtime configuration file name.
	ConfigName = "config.yaml"
)

// Hardware event names satellites may subscribe to via a mode packet.
const (
	EventButton = "button"
	EventEars   = "ears"
	EventAudio  = "audio"
)

// KnownEvent reports whether name is an event the hub can broadcast.
func KnownEvent(name string) bool {
	switch name {
	case EventButton, EventEars, EventAudio:
		return true
	default:
		return false
	}
}
