// Package connect provides Connect RPC service implementations.
package connect

import (
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "focuslamp.v1.ControlService"

// Procedure paths. Messages are google.protobuf.Struct.
const (
	StartProcedure     = "/" + ControlServiceName + "/Start"
	StopProcedure      = "/" + ControlServiceName + "/Stop"
	ConfigureProcedure = "/" + ControlServiceName + "/Configure"
	StatusProcedure    = "/" + ControlServiceName + "/Status"
	PerformProcedure   = "/" + ControlServiceName + "/Perform"
	SubscribeProcedure = "/" + ControlServiceName + "/Subscribe"
)

// NewControlServiceHandler builds an HTTP handler for the control service and
// returns the path to mount it on.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, svc.Start, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(ConfigureProcedure, connect.NewUnaryHandler(ConfigureProcedure, svc.Configure, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, svc.Status, opts...))
	mux.Handle(PerformProcedure, connect.NewUnaryHandler(PerformProcedure, svc.Perform, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.Subscribe, opts...))
	return "/" + ControlServiceName + "/", mux
}

// ControlClient calls the control service.
type ControlClient struct {
	token     string
	start     *connect.Client[structpb.Struct, structpb.Struct]
	stop      *connect.Client[structpb.Struct, structpb.Struct]
	configure *connect.Client[structpb.Struct, structpb.Struct]
	status    *connect.Client[structpb.Struct, structpb.Struct]
	perform   *connect.Client[structpb.Struct, structpb.Struct]
	subscribe *connect.Client[structpb.Struct, structpb.Struct]
}

// NewControlClient creates a control service client for baseURL. A non-empty
// token is sent in the ControlTokenHeader of every call.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	newClient := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &ControlClient{
		token:     token,
		start:     newClient(StartProcedure),
		stop:      newClient(StopProcedure),
		configure: newClient(ConfigureProcedure),
		status:    newClient(StatusProcedure),
		perform:   newClient(PerformProcedure),
		subscribe: newClient(SubscribeProcedure),
	}
}
