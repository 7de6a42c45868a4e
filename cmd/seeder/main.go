package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type seedQuestion struct {
	ID  string
	Doc store.Question
}

// loadQuestions reads a JSON array of question documents. Each document
// must carry its identifier in "_id" (or "id" when "_id" is absent).
func loadQuestions(r io.Reader) ([]seedQuestion, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var docs []map[string]interface{}
	if err := dec.Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}

	out := make([]seedQuestion, 0, len(docs))
	for i, doc := range docs {
		raw, ok := doc["_id"]
		if !ok {
			raw, ok = doc["id"]
		}
		if !ok || raw == nil {
			return nil, fmt.Errorf("question %d has no _id", i)
		}
		id := fmt.Sprint(raw)
		if id == "" {
			return nil, fmt.Errorf("question %d has an empty _id", i)
		}
		delete(doc, "_id")
		out = append(out, seedQuestion{ID: id, Doc: normalize(doc)})
	}
	return out, nil
}

// normalize converts json.Number values to int64 or float64 so they are
// stored as BSON numbers rather than strings.
func normalize(doc map[string]interface{}) store.Question {
	q := make(store.Question, len(doc))
	for k, v := range doc {
		q[k] = normalizeValue(v)
	}
	return q
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return map[string]interface{}(normalize(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func main() {
	file := flag.String("file", "questions.json", "JSON array of question documents")
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, "seeder")
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	f, err := os.Open(*file)
	if err != nil {
		l.Error("failed to open questions file", err, zap.String("file", *file))
		os.Exit(1)
	}
	defer f.Close()

	questions, err := loadQuestions(f)
	if err != nil {
		l.Error("failed to read questions", err, zap.String("file", *file))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := store.Connect(ctx, cfg.MongoDB, l)
	if err != nil {
		l.Error("failed to connect to mongodb", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())

	st := store.New(client.Database(cfg.MongoDB.Database), cfg.MongoDB)
	for _, q := range questions {
		if err := st.UpsertQuestion(ctx, q.ID, q.Doc); err != nil {
			l.Error("failed to upsert question", err, zap.String("id", q.ID))
			os.Exit(1)
		}
	}
	l.Info("questions seeded", zap.Int("count", len(questions)), zap.String("collection", cfg.MongoDB.QuestionsCollection))
}
