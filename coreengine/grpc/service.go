package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/realitygate"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/runtime"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ventureflow.v1.StageService"

const (
	StageService_ProcessStage_FullMethodName        = "/" + ServiceName + "/ProcessStage"
	StageService_RunVenture_FullMethodName          = "/" + ServiceName + "/RunVenture"
	StageService_EvaluateFilter_FullMethodName      = "/" + ServiceName + "/EvaluateFilter"
	StageService_EvaluateRealityGate_FullMethodName = "/" + ServiceName + "/EvaluateRealityGate"
	StageService_ResolveDecision_FullMethodName     = "/" + ServiceName + "/ResolveDecision"
)

// =============================================================================
// Messages
// =============================================================================

// RunVentureRequest asks for a venture to be advanced stage by stage.
type RunVentureRequest struct {
	VentureID       string              `json:"ventureId"`
	StageID         *int                `json:"stageId,omitempty"`
	MaxStages       int                 `json:"maxStages,omitempty"`
	Options         kernel.StageOptions `json:"options"`
	WaitForReview   bool                `json:"waitForReview,omitempty"`
	ReviewTimeoutMs int64               `json:"reviewTimeoutMs,omitempty"`
}

// EvaluateFilterRequest runs the decision filter over a raw stage payload.
type EvaluateFilterRequest struct {
	StageOutput map[string]any     `json:"stageOutput"`
	Preferences filter.Preferences `json:"preferences,omitempty"`
}

// EvaluateRealityGateRequest evaluates one boundary. A zero ToStage means
// FromStage+1.
type EvaluateRealityGateRequest struct {
	VentureID string `json:"ventureId"`
	FromStage int    `json:"fromStage"`
	ToStage   int    `json:"toStage,omitempty"`
}

// ResolveDecisionRequest records the chairman's answer to a pending decision.
type ResolveDecisionRequest struct {
	DecisionID string `json:"decisionId"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// =============================================================================
// Server API
// =============================================================================

// StageServiceServer is the server API for StageService.
type StageServiceServer interface {
	ProcessStage(context.Context, *kernel.StageRequest) (*kernel.StageResult, error)
	RunVenture(context.Context, *RunVentureRequest) (*runtime.RunResult, error)
	EvaluateFilter(context.Context, *EvaluateFilterRequest) (*filter.Decision, error)
	EvaluateRealityGate(context.Context, *EvaluateRealityGateRequest) (*realitygate.Result, error)
	ResolveDecision(context.Context, *ResolveDecisionRequest) (*kernel.Decision, error)
}

// RegisterStageServiceServer registers srv on s.
func RegisterStageServiceServer(s grpc.ServiceRegistrar, srv StageServiceServer) {
	s.RegisterService(&StageService_ServiceDesc, srv)
}

// StageService_ServiceDesc describes StageService for grpc.Server.
var StageService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProcessStage",
			Handler: unaryHandler(StageService_ProcessStage_FullMethodName,
				StageServiceServer.ProcessStage),
		},
		{
			MethodName: "RunVenture",
			Handler: unaryHandler(StageService_RunVenture_FullMethodName,
				StageServiceServer.RunVenture),
		},
		{
			MethodName: "EvaluateFilter",
			Handler: unaryHandler(StageService_EvaluateFilter_FullMethodName,
				StageServiceServer.EvaluateFilter),
		},
		{
			MethodName: "EvaluateRealityGate",
			Handler: unaryHandler(StageService_EvaluateRealityGate_FullMethodName,
				StageServiceServer.EvaluateRealityGate),
		},
		{
			MethodName: "ResolveDecision",
			Handler: unaryHandler(StageService_ResolveDecision_FullMethodName,
				StageServiceServer.ResolveDecision),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ventureflow/v1/stage_service",
}

// unaryHandler builds the method handler that protoc would generate for a
// unary RPC.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(StageServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StageServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StageServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// =============================================================================
// Client API
// =============================================================================

// StageServiceClient calls StageService using the JSON codec.
type StageServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStageServiceClient creates a client on cc.
func NewStageServiceClient(cc grpc.ClientConnInterface) *StageServiceClient {
	return &StageServiceClient{cc: cc}
}

func (c *StageServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *StageServiceClient) ProcessStage(ctx context.Context, in *kernel.StageRequest, opts ...grpc.CallOption) (*kernel.StageResult, error) {
	out := new(kernel.StageResult)
	if err := c.invoke(ctx, StageService_ProcessStage_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StageServiceClient) RunVenture(ctx context.Context, in *RunVentureRequest, opts ...grpc.CallOption) (*runtime.RunResult, error) {
	out := new(runtime.RunResult)
	if err := c.invoke(ctx, StageService_RunVenture_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StageServiceClient) EvaluateFilter(ctx context.Context, in *EvaluateFilterRequest, opts ...grpc.CallOption) (*filter.Decision, error) {
	out := new(filter.Decision)
	if err := c.invoke(ctx, StageService_EvaluateFilter_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StageServiceClient) EvaluateRealityGate(ctx context.Context, in *EvaluateRealityGateRequest, opts ...grpc.CallOption) (*realitygate.Result, error) {
	out := new(realitygate.Result)
	if err := c.invoke(ctx, StageService_EvaluateRealityGate_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StageServiceClient) ResolveDecision(ctx context.Context, in *ResolveDecisionRequest, opts ...grpc.CallOption) (*kernel.Decision, error) {
	out := new(kernel.Decision)
	if err := c.invoke(ctx, StageService_ResolveDecision_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
