package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Storage      = (*MemoryStorage)(nil)
	_ EventSink    = (*MemoryEventBus)(nil)
	_ EventSink    = NopEventSink{}
	_ FlowLocker   = (*MemoryFlowLocker)(nil)
	_ KeyGenerator = Ed25519KeyGenerator{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
