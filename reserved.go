package pregel

// Reserved channel and write-token names. None of these may be used as a
// user-defined channel name; the loop and apply-writes step treat them
// specially.
const (
	ChannelStart     = "__start__"
	ChannelEnd       = "__end__"
	ChannelPrevious  = "__previous__"
	ChannelInterrupt = "__interrupt__"
	ChannelTasks     = "__tasks__"
	ChannelResume    = "__resume__"

	writeTokenPush      = "__pregel_push__"
	writeTokenPull      = "__pregel_pull__"
	writeTokenResume    = "__resume__"
	writeTokenInterrupt = "__interrupt__"
)

var reservedChannels = map[string]bool{
	ChannelStart:     true,
	ChannelEnd:       true,
	ChannelPrevious:  true,
	ChannelInterrupt: true,
	ChannelTasks:     true,
	ChannelResume:    true,
	writeTokenPush:   true,
	writeTokenPull:   true,
}

// IsReserved reports whether name is one of the channel names reserved by
// the runtime and therefore unavailable to user graphs.
func IsReserved(name string) bool {
	return reservedChannels[name]
}
