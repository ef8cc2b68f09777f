// Package gateway provides clients for the e-file transmission
// gateways: IRS Modernized e-File (MeF) for federal returns and
// Maryland iFile for state returns.
//
// Both implement the Client interface:
//
//	client, err := gateway.NewMeFClient(gateway.MeFConfig{
//		ETIN:     "12345",
//		Password: creds.GetSecret("mef"),
//	})
//	resp, err := client.Transmit(ctx, gateway.TransmitRequest{
//		SubmissionID: sub.ID,
//		Payload:      sub.Payload,
//	})
//
// MeF is session-oriented: the client logs in for a token and
// re-authenticates transparently when the gateway reports an expired
// session. iFile is stateless JSON with a bearer key.
//
// Failures surface as coded errors whose category tells the transmit
// worker what to do: transient and resource errors are retried with
// backoff, permanent errors reject the submission.
//
// Wrap any client in a BreakerClient to add a circuit breaker:
//
//	breaker := gateway.NewBreakerClient(client, gateway.DefaultBreakerConfig())
//
// A run of consecutive failures trips the breaker open and calls fail
// fast with a CIRCUIT_OPEN error until a probe succeeds after the
// cooldown. Rejections are the gateway working as intended and never
// count against it.
//
// MockClient serves tests and local development.
package gateway
