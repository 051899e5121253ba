package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"economy-engine/models"
	"economy-engine/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notifier records "tell subject X about Y". Delivery failures never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, subjectID string, kind models.NotificationKind, title, body string)
}

// NotificationService stores notifications and streams them over SSE.
type NotificationService struct {
	DB           *gorm.DB
	PollInterval time.Duration
	Now          func() time.Time
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		DB:           db,
		PollInterval: 2 * time.Second,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *NotificationService) Notify(ctx context.Context, subjectID string, kind models.NotificationKind, title, body string) {
	n := models.Notification{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: s.Now(),
	}
	if err := s.DB.WithContext(context.WithoutCancel(ctx)).Create(&n).Error; err != nil {
		log.Printf("[ERROR] [NOTIFY] %s for %s: %v", kind, subjectID, err)
		return
	}
	log.Printf("🔔 [NOTIFY] %s → %s", kind, subjectID)
}

// List returns the subject's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, subjectID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	scopes := []repository.Scope{repository.Where("subject_id = ?", subjectID)}
	if unreadOnly {
		scopes = append(scopes, repository.Where("viewed = ?", false))
	}
	scopes = append(scopes, repository.OrderBy("created_at desc"), repository.Limit(limit))
	rows, err := repository.New[models.Notification](s.DB).List(ctx, scopes...)
	if err != nil {
		return nil, internal("list notifications", err)
	}
	return rows, nil
}

// MarkViewed flags one of the subject's notifications as read.
func (s *NotificationService) MarkViewed(ctx context.Context, subjectID, id string) error {
	res := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND subject_id = ?", id, subjectID).
		Update("viewed", true)
	if res.Error != nil {
		return internal("mark notification", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("notification", id)
	}
	return nil
}

// Stream pushes new notifications for the authenticated subject as server-sent events.
func (s *NotificationService) Stream(c *fiber.Ctx) error {
	subjectID, _ := c.Locals("user_id").(string)
	if subjectID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing subject"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.pump(w, subjectID, done)
	})
	return nil
}

// pump writes the subject's new notifications to w until done closes or a write fails.
// Idle ticks send an SSE comment so a dropped client surfaces as a flush error.
func (s *NotificationService) pump(w *bufio.Writer, subjectID string, done <-chan struct{}) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	var cursor time.Time
	var latest models.Notification
	if err := s.DB.Where("subject_id = ?", subjectID).Order("created_at DESC").First(&latest).Error; err == nil {
		cursor = latest.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[NOTIFY] SSE init error for %s: %v", subjectID, err)
	}

	w.WriteString(":\n\n")
	if err := w.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-ticker.C:
			var fresh []models.Notification
			err := s.DB.Where("subject_id = ? AND created_at > ?", subjectID, cursor).
				Order("created_at ASC").Find(&fresh).Error
			if err != nil {
				log.Printf("[NOTIFY] SSE query error for %s: %v", subjectID, err)
			}
			if len(fresh) == 0 {
				w.WriteString(":\n\n")
			} else {
				cursor = fresh[len(fresh)-1].CreatedAt
				for _, n := range fresh {
					payload, _ := json.Marshal(n)
					fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
				}
			}
			if err := w.Flush(); err != nil {
				log.Printf("[NOTIFY] SSE client for %s gone: %v", subjectID, err)
				return
			}
		case <-done:
			return
		}
	}
}
