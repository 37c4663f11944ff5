package monitorapi_test

import (
	"context"
	"net"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/barn-monitor/pkg/monitorapi"
)

type deviceOnlyServer struct {
	monitorapi.UnimplementedMonitoringServiceServer
}

func (deviceOnlyServer) GetDevice(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["deviceId"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "deviceId cannot be empty")
	}
	return structpb.NewStruct(map[string]any{
		"device": map[string]any{"deviceId": id, "status": "online"},
	})
}

var _ = Describe("MonitoringService", func() {
	var (
		server  *grpc.Server
		conn    *grpc.ClientConn
		client  *monitorapi.Client
		mu      sync.Mutex
		methods []string
	)

	BeforeEach(func() {
		methods = nil
		listener := bufconn.Listen(1 << 20)
		server = grpc.NewServer(grpc.UnaryInterceptor(
			func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
				mu.Lock()
				methods = append(methods, info.FullMethod)
				mu.Unlock()
				return handler(ctx, req)
			},
		))
		monitorapi.RegisterMonitoringServiceServer(server, deviceOnlyServer{})
		go func() {
			_ = server.Serve(listener)
		}()

		var err error
		conn, err = grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		client = monitorapi.NewClient(conn)
	})

	AfterEach(func() {
		_ = conn.Close()
		server.Stop()
	})

	It("should round-trip struct messages", func() {
		resp, err := client.GetDevice(context.Background(), "GAS-001")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(HaveKeyWithValue("device", HaveKeyWithValue("deviceId", "GAS-001")))

		mu.Lock()
		defer mu.Unlock()
		Expect(methods).To(ConsistOf("/barnmonitor.v1.MonitoringService/GetDevice"))
	})

	It("should carry status codes", func() {
		_, err := client.GetDevice(context.Background(), "")
		Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
	})

	It("should report methods the server does not implement", func() {
		_, err := client.ResolveAlert(context.Background(), "a-1", "user-1")
		Expect(status.Code(err)).To(Equal(codes.Unimplemented))
	})

	It("should reject requests that cannot be encoded", func() {
		_, err := client.Call(context.Background(), monitorapi.MethodListDevices, map[string]any{"bad": make(chan int)})
		Expect(err).To(MatchError(ContainSubstring("failed to encode")))
	})

	It("should describe every method", func() {
		Expect(monitorapi.ServiceDesc.Methods).To(HaveLen(10))
		Expect(monitorapi.FullMethod(monitorapi.MethodListReadings)).To(Equal("/barnmonitor.v1.MonitoringService/ListReadings"))
	})
})
