package chatsdk

// MessageFilter narrows which messages a collection loads and which
// realtime events it applies. Empty fields match everything.
type MessageFilter struct {
	MessageTypes []MessageType
	CustomTypes  []string
	SenderIDs    []string
}

// Empty reports whether the filter matches all messages.
func (f MessageFilter) Empty() bool {
	return len(f.MessageTypes) == 0 && len(f.CustomTypes) == 0 && len(f.SenderIDs) == 0
}

// Match reports whether m passes the filter.
func (f MessageFilter) Match(m Message) bool {
	if len(f.MessageTypes) > 0 && !containsType(f.MessageTypes, m.Type) {
		return false
	}
	if len(f.CustomTypes) > 0 && !containsString(f.CustomTypes, m.CustomType) {
		return false
	}
	if len(f.SenderIDs) > 0 && !containsString(f.SenderIDs, m.SenderID) {
		return false
	}
	return true
}

func containsType(types []MessageType, t MessageType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}
