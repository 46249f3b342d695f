package signalling

import (
	"context"
	"fmt"
	"time"

	"sendmer/internal/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// FirebaseSignaler keeps rendezvous records in the Firebase Realtime
// Database, under signals/<nodeID>/{presence,offers,answers}.
type FirebaseSignaler struct {
	db           *db.Client
	ref          *db.Ref
	pollInterval time.Duration
	logger       logrus.FieldLogger
}

type presence struct {
	Created int64 `json:"created"`
}

type answerRecord struct {
	SDP string `json:"sdp"`
}

// NewFirebaseSignaler connects to the database described by cfg
func NewFirebaseSignaler(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*FirebaseSignaler, error) {
	opt := option.WithCredentialsFile(cfg.Firebase.CredentialsPath)

	firebaseConfig := &firebase.Config{
		ProjectID:   cfg.Firebase.ProjectID,
		DatabaseURL: cfg.Firebase.DatabaseURL,
	}

	app, err := firebase.NewApp(ctx, firebaseConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseSignaler{
		db:           client,
		ref:          client.NewRef("signals"),
		pollInterval: cfg.WebRTC.PollInterval,
		logger:       logger.WithField("component", "signalling"),
	}, nil
}

func (f *FirebaseSignaler) Register(ctx context.Context, nodeID string) error {
	if err := f.ref.Child(nodeID).Child("presence").Set(ctx, presence{Created: time.Now().Unix()}); err != nil {
		return fmt.Errorf("error registering node %s: %w", nodeID, err)
	}
	return nil
}

func (f *FirebaseSignaler) Registered(ctx context.Context, nodeID string) (bool, error) {
	var p presence
	if err := f.ref.Child(nodeID).Child("presence").Get(ctx, &p); err != nil {
		return false, fmt.Errorf("error checking node %s: %w", nodeID, err)
	}
	return p.Created != 0, nil
}

func (f *FirebaseSignaler) PublishOffer(ctx context.Context, nodeID, dialID, sdp string) error {
	offer := Offer{DialID: dialID, SDP: sdp, Created: time.Now().Unix()}
	if err := f.ref.Child(nodeID).Child("offers").Child(dialID).Set(ctx, offer); err != nil {
		return fmt.Errorf("error publishing offer %s: %w", dialID, err)
	}
	return nil
}

func (f *FirebaseSignaler) PollOffers(ctx context.Context, nodeID string) ([]Offer, error) {
	offersRef := f.ref.Child(nodeID).Child("offers")

	var pending map[string]Offer
	if err := offersRef.Get(ctx, &pending); err != nil {
		return nil, fmt.Errorf("error polling offers for %s: %w", nodeID, err)
	}

	offers := make([]Offer, 0, len(pending))
	for dialID, offer := range pending {
		if err := offersRef.Child(dialID).Delete(ctx); err != nil {
			f.logger.WithError(err).Warnf("failed to consume offer %s", dialID)
			continue
		}
		if offer.DialID == "" {
			offer.DialID = dialID
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (f *FirebaseSignaler) PublishAnswer(ctx context.Context, nodeID, dialID, sdp string) error {
	if err := f.ref.Child(nodeID).Child("answers").Child(dialID).Set(ctx, answerRecord{SDP: sdp}); err != nil {
		return fmt.Errorf("error updating answer for dial %s: %w", dialID, err)
	}
	return nil
}

func (f *FirebaseSignaler) WaitForAnswer(ctx context.Context, nodeID, dialID string) (string, error) {
	answerRef := f.ref.Child(nodeID).Child("answers").Child(dialID)
	f.logger.Debugf("waiting for node %s to answer dial %s", nodeID, dialID)

	for {
		var answer answerRecord
		if err := answerRef.Get(ctx, &answer); err != nil {
			f.logger.WithError(err).Debug("answer poll failed")
		} else if answer.SDP != "" {
			if err := answerRef.Delete(ctx); err != nil {
				f.logger.WithError(err).Warnf("failed to delete answer %s", dialID)
			}
			return answer.SDP, nil
		}

		select {
		case <-time.After(f.pollInterval):
		case <-ctx.Done():
			// Leave no stale offer behind for the node to answer.
			f.ref.Child(nodeID).Child("offers").Child(dialID).Delete(context.Background())
			return "", ctx.Err()
		}
	}
}

func (f *FirebaseSignaler) Clear(ctx context.Context, nodeID string) error {
	if err := f.ref.Child(nodeID).Delete(ctx); err != nil {
		return fmt.Errorf("error clearing node %s: %w", nodeID, err)
	}
	return nil
}
