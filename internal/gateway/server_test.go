package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/internal/gateway"
	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
)

func send(conn *websocket.Conn, event string, data any) {
	raw, err := json.Marshal(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(conn.WriteJSON(gateway.Frame{Event: event, Data: raw})).To(Succeed())
}

func receive(conn *websocket.Conn) gateway.Frame {
	Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	var f gateway.Frame
	Expect(conn.ReadJSON(&f)).To(Succeed())
	return f
}

func receiveAck(conn *websocket.Conn) gateway.Ack {
	f := receive(conn)
	Expect(f.Event).To(Equal(gateway.FrameAck))
	var ack gateway.Ack
	Expect(json.Unmarshal(f.Data, &ack)).To(Succeed())
	return ack
}

var _ = Describe("Gateway Server", func() {
	var (
		hub *gateway.Hub
		srv *httptest.Server
	)

	BeforeEach(func() {
		var err error
		hub, err = gateway.NewHub(&gateway.HubConfig{Logger: logger.Discard()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				server, err := gateway.NewServer(nil)
				Expect(err).To(MatchError(ContainSubstring("server config cannot be nil")))
				Expect(server).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				server, err := gateway.NewServer(&gateway.ServerConfig{Hub: hub, HTTPPort: 8080})
				Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
				Expect(server).To(BeNil())
			})

			It("should return error when hub is nil", func() {
				server, err := gateway.NewServer(&gateway.ServerConfig{Logger: logger.Discard(), HTTPPort: 8080})
				Expect(err).To(MatchError(ContainSubstring("hub cannot be nil")))
				Expect(server).To(BeNil())
			})

			It("should return error when HTTP port is not positive", func() {
				for _, port := range []int{0, -1} {
					server, err := gateway.NewServer(&gateway.ServerConfig{
						Logger:   logger.Discard(),
						Hub:      hub,
						HTTPPort: port,
					})
					Expect(err).To(MatchError(ContainSubstring("HTTP port must be positive")))
					Expect(server).To(BeNil())
				}
			})
		})
	})

	Context("serving viewers", func() {
		var conn *websocket.Conn

		BeforeEach(func() {
			server, err := gateway.NewServer(&gateway.ServerConfig{
				Logger:         logger.Discard(),
				Hub:            hub,
				HTTPPort:       8080,
				AllowedOrigins: []string{"https://dashboard.example.com"},
			})
			Expect(err).NotTo(HaveOccurred())
			srv = httptest.NewServer(server.Handler())

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
			conn, _, err = websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
			Eventually(hub.ClientCount).Should(Equal(1))
		})

		AfterEach(func() {
			_ = conn.Close()
			hub.Close()
			srv.Close()
		})

		It("should answer health checks", func() {
			resp, err := http.Get(srv.URL + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should expose metrics", func() {
			resp, err := http.Get(srv.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should acknowledge subscriptions and deliver room events", func() {
			send(conn, gateway.FrameSubscribe, gateway.BarnRequest{BarnID: "B1"})
			Expect(receiveAck(conn)).To(Equal(gateway.Ack{Success: true, Message: "Subscribed to barn B1"}))
			Expect(hub.RoomSize("B1")).To(Equal(1))

			hub.EmitReading(&model.SensorReading{SensorID: "GAS-001", BarnID: "B1", AlertLevel: "normal"})

			Expect(receive(conn).Event).To(Equal(gateway.EventSensorReading))
			Expect(receive(conn).Event).To(Equal(gateway.EventSensorReadingGlobal))
		})

		It("should reject subscriptions without a barn id", func() {
			send(conn, gateway.FrameSubscribe, map[string]string{})
			Expect(receiveAck(conn)).To(Equal(gateway.Ack{Success: false, Message: "barnId is required"}))
		})

		It("should unsubscribe", func() {
			send(conn, gateway.FrameSubscribe, gateway.BarnRequest{BarnID: "B1"})
			receiveAck(conn)
			send(conn, gateway.FrameUnsubscribe, gateway.BarnRequest{BarnID: "B1"})
			Expect(receiveAck(conn)).To(Equal(gateway.Ack{Success: true, Message: "Unsubscribed from barn B1"}))
			Expect(hub.RoomSize("B1")).To(BeZero())
		})

		It("should answer pings and unknown frames", func() {
			send(conn, gateway.FramePing, nil)
			Expect(receiveAck(conn)).To(Equal(gateway.Ack{Success: true, Message: "pong"}))

			send(conn, "dance", nil)
			Expect(receiveAck(conn).Success).To(BeFalse())

			Expect(conn.WriteMessage(websocket.TextMessage, []byte("{not json"))).To(Succeed())
			Expect(receiveAck(conn)).To(Equal(gateway.Ack{Success: false, Message: "malformed frame"}))
		})

		It("should forget the client when the connection closes", func() {
			send(conn, gateway.FrameSubscribe, gateway.BarnRequest{BarnID: "B1"})
			receiveAck(conn)

			Expect(conn.Close()).To(Succeed())

			Eventually(hub.ClientCount).Should(BeZero())
			Expect(hub.RoomSize("B1")).To(BeZero())
		})

		It("should refuse origins outside the allow list", func() {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
			header := http.Header{"Origin": []string{"https://evil.example.com"}}
			_, resp, err := websocket.DefaultDialer.Dial(url, header)
			Expect(err).To(HaveOccurred())
			Expect(resp).NotTo(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})
})
