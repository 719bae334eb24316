package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-workflow/internal/core/domain"
)

const (
	WorkflowServiceName = "inventory.v1.Workflow"

	// AccountMetadataKey carries the caller's account ID on every call.
	AccountMetadataKey = "x-account-id"
	// IdempotencyMetadataKey may carry the idempotency key instead of the body.
	IdempotencyMetadataKey = "idempotency-key"
)

// jsonCodec lets the service exchange the same JSON documents as the HTTP API.
// Clients select it with grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

const JSONCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// WorkflowServer is the gRPC surface of the workflow engine.
type WorkflowServer interface {
	ListItems(context.Context, *ListItemsBody) (*ItemPageResponse, error)
	UploadStock(context.Context, *UploadBody) (*UploadResponse, error)
	CreateRequest(context.Context, *CreateRequestBody) (*RequestResponse, error)
	DecideRequest(context.Context, *DecideRequestBody) (*RequestResponse, error)
	ListRequests(context.Context, *Empty) (*RequestListResponse, error)
	CreateSupplierOrder(context.Context, *CreateOrderBody) (*OrderResponse, error)
	AdvanceSupplierOrder(context.Context, *AdvanceOrderBody) (*OrderResponse, error)
	ListSupplierOrders(context.Context, *Empty) (*OrderListResponse, error)
}

var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkflowServiceName,
	HandlerType: (*WorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListItems", WorkflowServer.ListItems),
		unaryMethod("UploadStock", WorkflowServer.UploadStock),
		unaryMethod("CreateRequest", WorkflowServer.CreateRequest),
		unaryMethod("DecideRequest", WorkflowServer.DecideRequest),
		unaryMethod("ListRequests", WorkflowServer.ListRequests),
		unaryMethod("CreateSupplierOrder", WorkflowServer.CreateSupplierOrder),
		unaryMethod("AdvanceSupplierOrder", WorkflowServer.AdvanceSupplierOrder),
		unaryMethod("ListSupplierOrders", WorkflowServer.ListSupplierOrders),
	},
	Metadata: "inventory/v1/workflow.proto",
}

func unaryMethod[Req, Resp any](name string, call func(WorkflowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + WorkflowServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkflowServer), ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	svc     Services
	timeout time.Duration
	logger  *zap.Logger
}

func NewGRPCHandler(svc Services, timeout time.Duration, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, timeout: timeout, logger: logger.Named("grpc")}
}

// NewServer builds a gRPC server exposing the workflow service and the
// standard health service.
func (h *GRPCHandler) NewServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(h.logCalls, h.authenticate))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&WorkflowServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus(WorkflowServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func (h *GRPCHandler) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("duration", time.Since(start)),
	}
	if code == codes.Internal {
		h.logger.Error("call failed", append(fields, zap.Error(err))...)
	} else {
		h.logger.Debug("call", fields...)
	}
	return resp, err
}

func (h *GRPCHandler) authenticate(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+WorkflowServiceName+"/") {
		return next(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	acc, err := h.svc.Accounts.Resolve(ctx, firstMetadata(ctx, AccountMetadataKey))
	if err != nil {
		return nil, grpcError(err)
	}
	return next(context.WithValue(ctx, accountKey{}, acc), req)
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func grpcCaller(ctx context.Context) domain.Account {
	acc, _ := ctx.Value(accountKey{}).(domain.Account)
	return acc
}

func (h *GRPCHandler) ListItems(ctx context.Context, in *ListItemsBody) (*ItemPageResponse, error) {
	page, err := h.svc.Inventory.ListItems(ctx, grpcCaller(ctx), in.Search, in.Page, in.PageSize)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toItemPage(page)
	return &resp, nil
}

func (h *GRPCHandler) UploadStock(ctx context.Context, in *UploadBody) (*UploadResponse, error) {
	levels, err := h.svc.Inventory.BulkUpload(ctx, grpcCaller(ctx), toStockRows(in.Rows))
	if err != nil {
		return nil, grpcError(err)
	}
	return &UploadResponse{Items: mapSlice(levels, toStockLevel)}, nil
}

func (h *GRPCHandler) CreateRequest(ctx context.Context, in *CreateRequestBody) (*RequestResponse, error) {
	key := in.IdempotencyKey
	if key == "" {
		key = firstMetadata(ctx, IdempotencyMetadataKey)
	}
	req, err := h.svc.Requests.Create(ctx, grpcCaller(ctx), in.ItemID, in.Quantity, in.Reason, key)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toRequest(req)
	return &resp, nil
}

func (h *GRPCHandler) DecideRequest(ctx context.Context, in *DecideRequestBody) (*RequestResponse, error) {
	req, err := h.svc.Requests.Decide(ctx, grpcCaller(ctx), in.RequestID, domain.RequestStatus(in.Status), in.AdminResponse)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toRequest(req)
	return &resp, nil
}

func (h *GRPCHandler) ListRequests(ctx context.Context, _ *Empty) (*RequestListResponse, error) {
	reqs, err := h.svc.Requests.List(ctx, grpcCaller(ctx))
	if err != nil {
		return nil, grpcError(err)
	}
	return &RequestListResponse{Requests: toRequestList(ctx, h.svc, reqs)}, nil
}

func (h *GRPCHandler) CreateSupplierOrder(ctx context.Context, in *CreateOrderBody) (*OrderResponse, error) {
	key := in.IdempotencyKey
	if key == "" {
		key = firstMetadata(ctx, IdempotencyMetadataKey)
	}
	order, err := h.svc.Orders.Create(ctx, grpcCaller(ctx), in.ItemID, in.SupplierID, in.Quantity, key)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrder(order)
	return &resp, nil
}

func (h *GRPCHandler) AdvanceSupplierOrder(ctx context.Context, in *AdvanceOrderBody) (*OrderResponse, error) {
	order, err := h.svc.Orders.Advance(ctx, grpcCaller(ctx), in.OrderID, domain.OrderStatus(in.Status))
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrder(order)
	return &resp, nil
}

func (h *GRPCHandler) ListSupplierOrders(ctx context.Context, _ *Empty) (*OrderListResponse, error) {
	orders, err := h.svc.Orders.List(ctx, grpcCaller(ctx))
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderListResponse{Orders: mapSlice(orders, toOrder)}, nil
}

func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInsufficientStock):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// WorkflowClient calls the workflow service over a connection using the JSON
// codec.
type WorkflowClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkflowClient(cc grpc.ClientConnInterface) *WorkflowClient {
	return &WorkflowClient{cc: cc}
}

// Call invokes method with in and decodes the reply into out. The caller's
// account ID travels as metadata.
func (c *WorkflowClient) Call(ctx context.Context, accountID, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, AccountMetadataKey, accountID)
	return c.cc.Invoke(ctx, "/"+WorkflowServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONCodecName))
}
