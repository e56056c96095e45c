package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		IntentRef   string `json:"intent_ref"`
		ChargeRef   string `json:"charge_ref"`
		RefundRef   string `json:"refund_ref"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
		Reason      string `json:"reason"`
	} `json:"data"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/webhooks/mock", "Webhook URL")
	secret := flag.String("secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "Webhook secret")
	eventID := flag.String("event-id", "evt_"+randomHex(8), "Event ID")
	eventType := flag.String("type", "payment_intent.succeeded", "Event type (payment_intent.succeeded, payment_intent.failed, payment_intent.canceled, charge.refunded, refund.failed)")
	intentRef := flag.String("intent-ref", "", "Provider intent id")
	chargeRef := flag.String("charge-ref", "", "Provider charge id")
	refundRef := flag.String("refund-ref", "", "Provider refund id (for refund events)")
	amount := flag.Int64("amount", 5000, "Amount in cents")
	currency := flag.String("currency", "EUR", "Currency")
	reason := flag.String("reason", "", "Failure reason (for failed events)")
	dryRun := flag.Bool("dry-run", false, "Only print body and signature header, don't send")

	flag.Parse()

	if *secret == "" {
		fmt.Fprintf(os.Stderr, "Error: secret not provided and MOCK_WEBHOOK_SECRET not set\n")
		os.Exit(1)
	}

	payload := webhookPayload{
		ID:   *eventID,
		Type: *eventType,
	}
	payload.Data.IntentRef = *intentRef
	payload.Data.ChargeRef = *chargeRef
	payload.Data.RefundRef = *refundRef
	payload.Data.AmountCents = *amount
	payload.Data.Currency = *currency
	payload.Data.Reason = *reason

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: marshal payload: %v\n", err)
		os.Exit(1)
	}

	mac := hmac.New(sha256.New, []byte(*secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if *dryRun {
		fmt.Printf("Body: %s\n", body)
		fmt.Printf("X-Webhook-Signature: %s\n", sig)
		return
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: send: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n", resp.Status, respBody)
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
