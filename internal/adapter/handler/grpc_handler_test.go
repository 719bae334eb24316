package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/core/service"
)

func newGRPCClient(t *testing.T) (*WorkflowClient, *grpc.ClientConn, *service.InventoryService) {
	t.Helper()
	svc, _ := newServices(t)

	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCHandler(svc, time.Second, zap.NewNop()).NewServer()
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewWorkflowClient(conn), conn, svc.Inventory
}

func TestGRPC_Health(t *testing.T) {
	_, conn, _ := newGRPCClient(t)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: WorkflowServiceName})

	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPC_Unauthenticated(t *testing.T) {
	client, _, _ := newGRPCClient(t)

	var out ItemPageResponse
	err := client.Call(context.Background(), "ghost", "ListItems", &ListItemsBody{}, &out)

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_RequestToDelivery(t *testing.T) {
	client, _, inventory := newGRPCClient(t)
	ctx := context.Background()

	var created RequestResponse
	require.NoError(t, client.Call(ctx, employeeID, "CreateRequest", &CreateRequestBody{ItemID: "widget", Quantity: 5}, &created))
	assert.Equal(t, "pending", created.Status)

	var denied RequestResponse
	err := client.Call(ctx, supplierID, "DecideRequest", &DecideRequestBody{RequestID: created.ID, Status: "approved"}, &denied)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	var decided RequestResponse
	require.NoError(t, client.Call(ctx, adminID, "DecideRequest", &DecideRequestBody{RequestID: created.ID, Status: "approved"}, &decided))
	assert.Equal(t, "approved", decided.Status)

	err = client.Call(ctx, adminID, "DecideRequest", &DecideRequestBody{RequestID: created.ID, Status: "approved"}, &decided)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	var orders OrderListResponse
	require.NoError(t, client.Call(ctx, supplierID, "ListSupplierOrders", &Empty{}, &orders))
	require.Len(t, orders.Orders, 1)
	order := orders.Orders[0]
	assert.Equal(t, 23, order.Quantity)

	for _, next := range []string{"shipped", "delivered"} {
		var advanced OrderResponse
		require.NoError(t, client.Call(ctx, supplierID, "AdvanceSupplierOrder", &AdvanceOrderBody{OrderID: order.ID, Status: next}, &advanced))
		assert.Equal(t, next, advanced.Status)
	}

	item, err := inventory.GetItem(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, 30, item.Stock)

	var mine RequestListResponse
	require.NoError(t, client.Call(ctx, employeeID, "ListRequests", &Empty{}, &mine))
	require.Len(t, mine.Requests, 1)
	assert.Equal(t, "approved", mine.Requests[0].Status)
	assert.Equal(t, "Widget", mine.Requests[0].ItemName)
	assert.Equal(t, "Ana", mine.Requests[0].EmployeeName)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	client, _, _ := newGRPCClient(t)
	ctx := context.Background()

	var order OrderResponse
	err := client.Call(ctx, adminID, "CreateSupplierOrder", &CreateOrderBody{ItemID: "widget", SupplierID: supplierID, Quantity: 0}, &order)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = client.Call(ctx, adminID, "CreateSupplierOrder", &CreateOrderBody{ItemID: "nope", SupplierID: supplierID, Quantity: 2}, &order)
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, client.Call(ctx, adminID, "CreateSupplierOrder", &CreateOrderBody{ItemID: "widget", SupplierID: supplierID, Quantity: 2}, &order))
	err = client.Call(ctx, adminID, "CreateSupplierOrder", &CreateOrderBody{ItemID: "widget", SupplierID: supplierID, Quantity: 2}, &order)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	var page ItemPageResponse
	require.NoError(t, client.Call(ctx, employeeID, "ListItems", &ListItemsBody{Search: "wid"}, &page))
	assert.Equal(t, 1, page.Total)
}

func TestGRPCError(t *testing.T) {
	assert.Equal(t, codes.Unavailable, status.Code(grpcError(domain.ErrUnavailable)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(grpcError(domain.ErrInsufficientStock)))
	assert.Equal(t, codes.Internal, status.Code(grpcError(context.Canceled)))
}
