package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"mentara-client/internal/domain"
)

// ExamLoader fetches exam metadata from the backing API.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID domain.ID) (domain.Exam, error)
}

// ExamRepository caches exam metadata in Redis (hash per exam) and falls back to a loader on cache miss.
// Metadata is stored as: HSET mentara:exam:{examID} title ... duration_seconds ...
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID domain.ID) (domain.Exam, error) {
	key := r.examKey(examID)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return buildExamFromCache(examID, fields), nil
	}

	result, err, _ := r.sf.Do(examID.String(), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return buildExamFromCache(examID, fields), nil
		}

		exam, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, examFields(exam))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (r *ExamRepository) examKey(examID domain.ID) string {
	return "mentara:exam:" + examID.String()
}

func examFields(exam domain.Exam) map[string]interface{} {
	fields := map[string]interface{}{
		"title":            exam.Title,
		"description":      exam.Description,
		"level":            exam.Level,
		"duration_seconds": exam.DurationSeconds,
		"total_marks":      strconv.FormatFloat(exam.TotalMarks, 'f', -1, 64),
		"instructions":     exam.Instructions,
		"topic_name":       exam.TopicName,
	}
	if exam.PaperNumber != nil {
		fields["paper_number"] = *exam.PaperNumber
	}
	return fields
}

func buildExamFromCache(examID domain.ID, fields map[string]string) domain.Exam {
	exam := domain.Exam{
		ID:           examID,
		Title:        fields["title"],
		Description:  fields["description"],
		Level:        fields["level"],
		Instructions: fields["instructions"],
		TopicName:    fields["topic_name"],
	}
	if n, err := strconv.Atoi(fields["duration_seconds"]); err == nil {
		exam.DurationSeconds = n
	}
	if f, err := strconv.ParseFloat(fields["total_marks"], 64); err == nil {
		exam.TotalMarks = f
	}
	if p, ok := fields["paper_number"]; ok {
		if n, err := strconv.Atoi(p); err == nil {
			exam.PaperNumber = &n
		}
	}
	return exam
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
