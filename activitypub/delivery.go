package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
)

// Deliverer posts signed activities to remote inboxes. Delivery is
// fire-and-forget: the local state change has already committed when a
// delivery starts, so failures are logged and never surfaced to the
// initiating request. No retry.
type Deliverer struct {
	conf   *util.AppConfig
	client *http.Client
}

func NewDeliverer(conf *util.AppConfig) *Deliverer {
	return &Deliverer{
		conf:   conf,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver dispatches asynchronously on behalf of the given local account.
func (d *Deliverer) Deliver(activity interface{}, inboxURI string, acc *domain.Account) {
	go func() {
		if err := d.deliver(activity, inboxURI, acc); err != nil {
			log.Printf("Delivery: Failed to deliver to %s: %v", inboxURI, err)
		}
	}()
}

// deliver signs and posts one activity to one inbox.
func (d *Deliverer) deliver(activity interface{}, inboxURI string, acc *domain.Account) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	// Digest header is part of the signed material
	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := ParsePrivateKey(acc.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", d.conf.Conf.SslDomain, acc.Username)
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Delivery: Sent activity to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}
