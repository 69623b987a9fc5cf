package application

// TransportHandler receives the asynchronous transport callbacks. Each
// method may be called from any goroutine.
type TransportHandler interface {
	OnConnectSuccess(attempt ConnectionAttempt)
	OnConnectFailure(attempt ConnectionAttempt, err error)
	// OnConnectionLost reports a dropped connection. A zero errorCode means
	// the disconnect was requested by this process.
	OnConnectionLost(errorCode int, err error)
	OnSubscribeResult(topic string, err error)
	OnMessageArrived(topic string, payload []byte)
}

// MQTTTransport is the pub/sub client boundary. Connect and Subscribe return
// immediately and report their outcome through the TransportHandler.
type MQTTTransport interface {
	SetHandler(handler TransportHandler)

	Connect(attempt ConnectionAttempt, opts ConnectOptions) error
	Subscribe(topic string, qos byte) error
	// Publish hands the message to the transport without waiting for a
	// broker acknowledgment.
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}
