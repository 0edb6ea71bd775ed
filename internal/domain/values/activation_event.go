package values

import "strings"

// ActivationEvent is a named trigger that authorizes lazy activation of an
// extension, e.g. "onStartupFinished" or "onCommand:myext.hello".
type ActivationEvent string

// OnStartupFinished activates an extension when the host finishes startup.
const OnStartupFinished ActivationEvent = "onStartupFinished"

// Prefixes for parameterized activation events.
const (
	onCommandPrefix        = "onCommand:"
	onCustomFunctionPrefix = "onCustomFunction:"
	onDataConnectorPrefix  = "onDataConnector:"
	onViewPrefix           = "onView:"
)

// OnCommand returns the activation event for a command id.
func OnCommand(commandID string) ActivationEvent {
	return ActivationEvent(onCommandPrefix + commandID)
}

// OnCustomFunction returns the activation event for a custom function name.
func OnCustomFunction(name string) ActivationEvent {
	return ActivationEvent(onCustomFunctionPrefix + name)
}

// OnDataConnector returns the activation event for a data connector id.
func OnDataConnector(connectorID string) ActivationEvent {
	return ActivationEvent(onDataConnectorPrefix + connectorID)
}

// OnView returns the activation event for a view id.
func OnView(viewID string) ActivationEvent {
	return ActivationEvent(onViewPrefix + viewID)
}

// String returns the string representation.
func (e ActivationEvent) String() string {
	return string(e)
}

// IsValid reports whether the event is a recognized trigger shape.
func (e ActivationEvent) IsValid() bool {
	if e == OnStartupFinished {
		return true
	}
	for _, prefix := range []string{onCommandPrefix, onCustomFunctionPrefix, onDataConnectorPrefix, onViewPrefix} {
		if strings.HasPrefix(string(e), prefix) && len(e) > len(prefix) {
			return true
		}
	}
	return false
}
