// smoke-dispatch runs the happy path against a live API: login as each
// demo role, create a request, approve it with a tracking number, and
// confirm delivery. Exits non-zero on the first deviation.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type loginResponse struct {
	Token string `json:"token"`
}

type requestPayload struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	IsDelivered    bool   `json:"is_delivered"`
}

func main() {
	base := os.Getenv("DOCTRACK_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	password := os.Getenv("DOCTRACK_SMOKE_PASSWORD")
	if password == "" {
		password = "doctrack-demo"
	}

	client := &http.Client{Timeout: 5 * time.Second}

	admin := login(client, base, "admin@doctrack.local", password)
	requester := login(client, base, "requester@doctrack.local", password)
	receiver := login(client, base, "receiver@doctrack.local", password)

	var created requestPayload
	post(client, base+"/v1/requests", requester, map[string]string{
		"document_name":  fmt.Sprintf("Smoke %d.pdf", time.Now().Unix()),
		"receiver_email": "receiver@doctrack.local",
	}, &created)
	if created.Status != "pending" {
		log.Fatalf("create: status %q, want pending", created.Status)
	}

	var approved requestPayload
	post(client, base+"/v1/requests/"+created.ID+"/approve", admin, map[string]string{
		"tracking_number": fmt.Sprintf("TH%d", time.Now().UnixNano()),
		"shipping_vendor": "Kerry",
	}, &approved)
	if approved.Status != "approved" || approved.TrackingNumber == "" {
		log.Fatalf("approve: %+v", approved)
	}

	var delivered requestPayload
	post(client, base+"/v1/requests/"+created.ID+"/deliver", receiver, nil, &delivered)
	if delivered.Status != "completed" || !delivered.IsDelivered {
		log.Fatalf("deliver: %+v", delivered)
	}

	fmt.Printf("✅ dispatch smoke test passed: request=%s tracking=%s\n", created.ID, approved.TrackingNumber)
}

func login(client *http.Client, base, email, password string) string {
	var resp loginResponse
	post(client, base+"/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if resp.Token == "" {
		log.Fatalf("login %s: empty token", email)
	}
	return resp.Token
}

func post(client *http.Client, url, token string, body any, out any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", url, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("post %s: status %d", url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", url, err)
		}
	}
}
