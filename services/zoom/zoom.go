// Package zoomsvc schedules class meetings through the Zoom API (server-to-server OAuth).
package zoomsvc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/classes"
)

const scheduledMeeting = 2

type (
	Scheduler struct {
		client    *resty.Client
		conf      core.ZoomConfig
		mu        sync.Mutex
		token     string
		expiresAt time.Time
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	meetingRequest struct {
		Topic     string `json:"topic"`
		Type      int    `json:"type"`
		StartTime string `json:"start_time"`
		Duration  int    `json:"duration"`
		Timezone  string `json:"timezone"`
	}

	meetingResponse struct {
		ID      int64  `json:"id"`
		JoinURL string `json:"join_url"`
	}

	apiError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

var _ classes.MeetingScheduler = (*Scheduler)(nil)

func NewScheduler(conf *core.Config) *Scheduler {
	return &Scheduler{
		client: resty.New().SetTimeout(10 * time.Second),
		conf:   conf.Zoom,
	}
}

func (s *Scheduler) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// keep a margin so a token never expires mid-request
	if s.token != "" && time.Now().Add(time.Minute).Before(s.expiresAt) {
		return s.token, nil
	}

	var tok tokenResponse
	var apiErr apiError
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.conf.ClientID, s.conf.ClientSecret).
		SetFormData(map[string]string{
			"grant_type": "account_credentials",
			"account_id": s.conf.AccountID,
		}).
		SetResult(&tok).
		SetError(&apiErr).
		Post(s.conf.OAuthURL)
	if err != nil {
		return "", errors.Wrap(err, "requesting zoom token")
	}
	if resp.StatusCode() != http.StatusOK || tok.AccessToken == "" {
		return "", errors.Errorf("requesting zoom token - status: %d - body: %s", resp.StatusCode(), resp.String())
	}

	s.token = tok.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return s.token, nil
}

// CreateMeeting schedules a meeting on the account owner's calendar and returns its join URL.
func (s *Scheduler) CreateMeeting(ctx context.Context, m classes.Meeting) (string, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}

	var meeting meetingResponse
	var apiErr apiError
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(meetingRequest{
			Topic:     m.Topic,
			Type:      scheduledMeeting,
			StartTime: m.StartsAt.UTC().Format("2006-01-02T15:04:05Z"),
			Duration:  int(m.Duration / time.Minute),
			Timezone:  "UTC",
		}).
		SetResult(&meeting).
		SetError(&apiErr).
		Post(s.conf.APIBaseURL + "/users/me/meetings")
	if err != nil {
		return "", errors.Wrap(err, "creating zoom meeting")
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
	}
	if resp.IsError() {
		return "", errors.Errorf("creating zoom meeting - status: %d - code: %d - message: %s",
			resp.StatusCode(), apiErr.Code, apiErr.Message)
	}
	if meeting.JoinURL == "" {
		return "", errors.New("creating zoom meeting: no join url in response")
	}
	return meeting.JoinURL, nil
}
