package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one document per session and one per lead, using the
// server's $set / $push / $inc operators for point updates.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	leads    *mongo.Collection
}

// NewMongoStore connects to uri and ensures the unique indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		sessions: db.Collection("sessions"),
		leads:    db.Collection("leads"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	if _, err := s.leads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "lead_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lead_score", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("create lead indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func byID(id string) bson.M { return bson.M{"session_id": id} }

func (s *MongoStore) CreateSession(ctx context.Context, sess *Session) error {
	if _, err := s.sessions.InsertOne(ctx, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.sessions.FindOne(ctx, byID(id)).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

func (s *MongoStore) updateSession(ctx context.Context, id string, update bson.M) error {
	res, err := s.sessions.UpdateOne(ctx, byID(id), update)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, id string, m Message) error {
	return s.updateSession(ctx, id, bson.M{
		"$push": bson.M{"conversation_history": m},
		"$set":  bson.M{"updated_at": m.Timestamp},
	})
}

func (s *MongoStore) SetStage(ctx context.Context, id string, stage Stage) error {
	return s.updateSession(ctx, id, bson.M{
		"$set": bson.M{"stage": stage, "updated_at": time.Now().UTC()},
	})
}

func (s *MongoStore) SaveSection(ctx context.Context, id string, sec Section, content string, at time.Time) error {
	return s.updateSession(ctx, id, bson.M{
		"$set": bson.M{
			"context." + string(sec): content,
			"current_stage":          sec,
			"progress_percentage":    sec.Progress(),
			"updated_at":             at,
		},
		"$push": bson.M{"context_history": SectionRecord{Stage: sec, Content: content, SavedAt: at}},
	})
}

func (s *MongoStore) UpdateIdea(ctx context.Context, id, idea string, rec RefinementRecord) error {
	return s.updateSession(ctx, id, bson.M{
		"$set":  bson.M{"idea": idea, "updated_at": rec.Timestamp},
		"$push": bson.M{"refinement_history": rec},
	})
}

func (s *MongoStore) AppendVersion(ctx context.Context, id string, v Version) error {
	return s.updateSession(ctx, id, bson.M{"$push": bson.M{"versions": v}})
}

func (s *MongoStore) IncrementRefinements(ctx context.Context, id string) (int, error) {
	var out struct {
		RefinementsUsed int `bson:"refinements_used"`
	}
	err := s.sessions.FindOneAndUpdate(ctx, byID(id),
		bson.M{"$inc": bson.M{"refinements_used": 1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"refinements_used": 1}),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment refinements: %w", err)
	}
	return out.RefinementsUsed, nil
}

func (s *MongoStore) MarkLeadCaptured(ctx context.Context, id string, c LeadCapture) error {
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"session_id": id, "lead_captured": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"lead_captured": true,
			"lead_email":    c.Email,
			"lead_name":     c.Name,
			"lead_score":    c.Score,
			"stage":         StageGeneratingFullReport,
			"updated_at":    c.At,
		}},
	)
	if err != nil {
		return fmt.Errorf("mark lead captured: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return ErrLeadAlreadyCaptured
}

func (s *MongoStore) MarkEmailSent(ctx context.Context, id string, r EmailReceipt) error {
	return s.updateSession(ctx, id, bson.M{"$set": bson.M{
		"report_email_sent":    true,
		"report_email_sent_at": r.SentAt,
		"email_id":             r.EmailID,
		"email_subject":        r.Subject,
		"updated_at":           r.SentAt,
	}})
}

func (s *MongoStore) CreateLead(ctx context.Context, l *Lead) error {
	if _, err := s.leads.InsertOne(ctx, l); err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *MongoStore) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var l Lead
	err := s.leads.FindOne(ctx, bson.M{"lead_id": leadID}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find lead: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) updateLead(ctx context.Context, leadID string, update bson.M) error {
	res, err := s.leads.UpdateOne(ctx, bson.M{"lead_id": leadID}, update)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (s *MongoStore) UpdateLeadStatus(ctx context.Context, leadID string, status LeadStatus) error {
	return s.updateLead(ctx, leadID, bson.M{"$set": bson.M{"status": status}})
}

func (s *MongoStore) AppendLeadNote(ctx context.Context, leadID string, note LeadNote) error {
	return s.updateLead(ctx, leadID, bson.M{"$push": bson.M{"notes": note}})
}

func (s *MongoStore) TopLeads(ctx context.Context, limit int) ([]Lead, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "lead_score", Value: -1},
		{Key: "captured_at", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.leads.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	var leads []Lead
	if err := cur.All(ctx, &leads); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	return leads, nil
}

func (s *MongoStore) LeadStats(ctx context.Context, highScore int) (LeadStats, error) {
	total, err := s.leads.CountDocuments(ctx, bson.M{})
	if err != nil {
		return LeadStats{}, fmt.Errorf("count leads: %w", err)
	}
	high, err := s.leads.CountDocuments(ctx, bson.M{"lead_score": bson.M{"$gte": highScore}})
	if err != nil {
		return LeadStats{}, fmt.Errorf("count high leads: %w", err)
	}

	st := LeadStats{Total: int(total), HighQuality: int(high)}
	cur, err := s.leads.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg_score", Value: bson.D{{Key: "$avg", Value: "$lead_score"}}},
		}}},
	})
	if err != nil {
		return LeadStats{}, fmt.Errorf("aggregate leads: %w", err)
	}
	var rows []struct {
		AvgScore float64 `bson:"avg_score"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return LeadStats{}, fmt.Errorf("decode lead stats: %w", err)
	}
	if len(rows) > 0 {
		st.AverageScore = rows[0].AvgScore
	}
	return st, nil
}
