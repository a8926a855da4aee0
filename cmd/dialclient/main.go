// Command dialclient places a call through the CRM call service HTTP API and
// follows its status and transcript until the call ends.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"crm-call-service/internal/models"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC address for the health check")
	number := flag.String("number", "+15551234567", "phone number to dial")
	name := flag.String("name", "Test Contact", "contact display name")
	endAfter := flag.Duration("end-after", 30*time.Second, "hang up after this long (0 waits for the remote side)")
	pollEvery := flag.Duration("poll", time.Second, "status refresh interval")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	checkHealth(*grpcAddr)

	c := &client{base: *apiURL, http: &http.Client{Timeout: 10 * time.Second}}
	id, err := c.startCall(*number, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start call")
	}
	log.Info().Str("sessionId", id).Str("number", *number).Msg("Call requested")

	var hangUp <-chan time.Time
	if *endAfter > 0 {
		hangUp = time.After(*endAfter)
	}
	ticker := time.NewTicker(*pollEvery)
	defer ticker.Stop()

	lastLabel := ""
	seen := -1
	for {
		select {
		case <-hangUp:
			hangUp = nil
			log.Info().Msg("Hanging up")
			if err := c.intent(id, "end"); err != nil {
				log.Error().Err(err).Msg("failed to end call")
			}
		case <-ticker.C:
		}

		snap, err := c.call(id)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch call")
			continue
		}
		if snap.StatusLabel != lastLabel {
			lastLabel = snap.StatusLabel
			log.Info().Str("state", snap.State).Str("status", snap.StatusLabel).Msg("Status changed")
		}
		for _, e := range snap.Transcript {
			if e.ArrivalIndex <= seen {
				continue
			}
			seen = e.ArrivalIndex
			fmt.Printf("[%s] %s: %s\n", e.Source, e.Speaker, e.Text)
		}
		if snap.State == "ended" {
			log.Info().Str("reason", snap.EndReason).Int("durationSeconds", snap.DurationSeconds).Msg("Call ended")
			return
		}
	}
}

func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Warn().Err(err).Msg("gRPC health check skipped")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		log.Warn().Err(err).Msg("gRPC health check failed")
		return
	}
	log.Info().Str("status", resp.GetStatus().String()).Msg("Service health")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) startCall(number, name string) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	body := map[string]string{"phoneNumber": number, "displayName": name}
	if err := c.do(http.MethodPost, "/v1/calls", body, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *client) intent(id, intent string) error {
	return c.do(http.MethodPost, "/v1/calls/"+id+"/intents", map[string]string{"intent": intent}, http.StatusAccepted, nil)
}

func (c *client) call(id string) (*models.CallSnapshot, error) {
	var snap models.CallSnapshot
	if err := c.do(http.MethodGet, "/v1/calls/"+id, nil, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *client) do(method, path string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
