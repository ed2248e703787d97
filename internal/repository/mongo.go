package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoRepository is the MongoDB Store.
type MongoRepository struct {
	client   *mongo.Client
	db       *mongo.Database
	users    *mongo.Collection
	accounts *mongo.Collection
	presence *mongo.Collection
	statuses *mongo.Collection
	counters *mongo.Collection
	timeout  time.Duration
	log      *zap.Logger
}

func NewMongoRepository(ctx context.Context, uri, dbName string, timeout time.Duration, log *zap.Logger) (*MongoRepository, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	r := &MongoRepository{
		client:   client,
		db:       db,
		users:    db.Collection(models.UsersCollection),
		accounts: db.Collection(models.AccountsCollection),
		presence: db.Collection(models.PresenceCollection),
		statuses: db.Collection(models.StatusCollection),
		counters: db.Collection("counters"),
		timeout:  timeout,
		log:      log,
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Second
	}
	if err := r.ensureIndexes(cctx); err != nil {
		log.Warn("mongo index creation failed", zap.Error(err))
	}
	log.Info("mongo connected", zap.String("db", dbName))
	return r, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	pub := r.db.Collection(conversation.PublicCollection)
	priv := r.db.Collection(conversation.PrivateCollection)
	if _, err := pub.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := priv.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "is_read", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := r.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

func (r *MongoRepository) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}

func (r *MongoRepository) msgs(coll string) *mongo.Collection {
	return r.db.Collection(coll)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound(op, "not found")
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict(op, "already exists")
	}
	return apperr.Transient(op, err)
}

func (r *MongoRepository) nextSeq(ctx context.Context, coll string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": coll},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (r *MongoRepository) InsertMessage(ctx context.Context, coll string, m *models.Message) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	seq, err := r.nextSeq(ctx, coll)
	if err != nil {
		return wrap("mongo.InsertMessage", err)
	}
	m.Seq = seq
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	}
	normalize(m)
	_, err = r.msgs(coll).InsertOne(ctx, m)
	return wrap("mongo.InsertMessage", err)
}

func (r *MongoRepository) GetMessage(ctx context.Context, coll, id string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := r.msgs(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrap("mongo.GetMessage", err)
	}
	normalize(&m)
	return &m, nil
}

func (q MessageQuery) filter() bson.M {
	f := bson.M{}
	if q.ChatID != "" {
		f["chat_id"] = q.ChatID
	}
	if q.Participant != "" {
		f["participants"] = q.Participant
	}
	if q.ExcludeSender != "" {
		f["sender"] = bson.M{"$ne": q.ExcludeSender}
	}
	if q.UnreadOnly {
		f["is_read"] = false
	}
	if q.PinnedOnly {
		f["is_pinned"] = true
	}
	return f
}

func (r *MongoRepository) find(ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		normalize(&m)
		out = append(out, m)
	}
	return out, cur.Err()
}

func (r *MongoRepository) FindMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	order := 1
	if q.Descending {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: order}, {Key: "seq", Value: order}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	out, err := r.find(ctx, r.msgs(q.Collection), q.filter(), opts)
	if err != nil {
		return nil, wrap("mongo.FindMessages", err)
	}
	return out, nil
}

// ownedUpdate applies update only when owner sent the message, then tells a
// missing message apart from a foreign one.
func (r *MongoRepository) ownedUpdate(ctx context.Context, op, coll, id, owner string, update bson.M) (*models.Message, error) {
	var m models.Message
	err := r.msgs(coll).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "sender": owner},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.ownershipError(ctx, op, coll, id)
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	normalize(&m)
	return &m, nil
}

func (r *MongoRepository) ownershipError(ctx context.Context, op, coll, id string) error {
	n, err := r.msgs(coll).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, "message not found")
	}
	return apperr.Permission(op, "only the sender can change this message")
}

func (r *MongoRepository) UpdateText(ctx context.Context, coll, id, owner, text string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	return r.ownedUpdate(ctx, "mongo.UpdateText", coll, id, owner,
		bson.M{"$set": bson.M{"text": text, "is_edited": true}})
}

func (r *MongoRepository) DeleteOwned(ctx context.Context, coll, id, owner string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var m models.Message
	err := r.msgs(coll).FindOneAndDelete(ctx, bson.M{"_id": id, "sender": owner}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.ownershipError(ctx, "mongo.DeleteOwned", coll, id)
	}
	if err != nil {
		return nil, wrap("mongo.DeleteOwned", err)
	}
	return &m, nil
}

func (r *MongoRepository) ToggleReaction(ctx context.Context, coll, id, emoji, user string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	c := r.msgs(coll)
	field := "reactions." + emoji

	res, err := c.UpdateOne(ctx, bson.M{"_id": id, field: user}, bson.M{"$pull": bson.M{field: user}})
	if err != nil {
		return nil, wrap("mongo.ToggleReaction", err)
	}
	if res.MatchedCount == 0 {
		res, err = c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$addToSet": bson.M{field: user}})
		if err != nil {
			return nil, wrap("mongo.ToggleReaction", err)
		}
		if res.MatchedCount == 0 {
			return nil, apperr.NotFound("mongo.ToggleReaction", "message not found")
		}
	} else {
		// an emptied reaction set disappears from the map
		if _, err := c.UpdateOne(ctx,
			bson.M{"_id": id, field: bson.M{"$size": 0}},
			bson.M{"$unset": bson.M{field: ""}},
		); err != nil {
			return nil, wrap("mongo.ToggleReaction", err)
		}
	}

	var m models.Message
	if err := c.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrap("mongo.ToggleReaction", err)
	}
	normalize(&m)
	return &m, nil
}

// TogglePinned negates is_pinned server side with an update pipeline, so
// concurrent toggles never overwrite each other.
func (r *MongoRepository) TogglePinned(ctx context.Context, coll, id string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	flip := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"is_pinned": bson.M{"$not": bson.A{"$is_pinned"}}}}},
	}
	var m models.Message
	err := r.msgs(coll).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		flip,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, wrap("mongo.TogglePinned", err)
	}
	normalize(&m)
	return &m, nil
}

func (r *MongoRepository) MarkRead(ctx context.Context, chatID, sender string) (int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.msgs(conversation.PrivateCollection).UpdateMany(ctx,
		bson.M{"chat_id": chatID, "sender": sender, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, wrap("mongo.MarkRead", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) DeleteMessage(ctx context.Context, coll, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.msgs(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("mongo.DeleteMessage", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("mongo.DeleteMessage", "message not found")
	}
	return nil
}

// likeFilter matches documents where any of fields contains q, ignoring case.
func likeFilter(q string, fields ...string) bson.M {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
	or := make([]bson.M, 0, len(fields))
	for _, f := range fields {
		or = append(or, bson.M{f: re})
	}
	return bson.M{"$or": or}
}

func (r *MongoRepository) PageMessages(ctx context.Context, coll, cursor string, limit int, q MessageSearch) (models.Page[models.Message], error) {
	var and []bson.M
	if cursor != "" {
		var c messageCursor
		if err := decodeCursor(cursor, &c); err != nil {
			return models.Page[models.Message]{}, err
		}
		p := c.position()
		and = append(and, bson.M{"$or": []bson.M{
			{"timestamp": bson.M{"$lt": p.Timestamp}},
			{"timestamp": p.Timestamp, "seq": bson.M{"$lt": p.Seq}},
		}})
	}
	if !q.IsZero() {
		or := []bson.M{}
		if q.Text != "" {
			or = append(or, likeFilter(q.Text, "text"))
		}
		if len(q.Senders) > 0 {
			or = append(or, bson.M{"sender": bson.M{"$in": q.Senders}})
		}
		and = append(and, bson.M{"$or": or})
	}
	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}

	ctx, cancel := r.ctx(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(limit) + 1)
	items, err := r.find(ctx, r.msgs(coll), filter, opts)
	if err != nil {
		return models.Page[models.Message]{}, wrap("mongo.PageMessages", err)
	}

	page := models.Page[models.Message]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.Next = encodeCursor(messageCursor{TS: last.Timestamp.UnixNano(), Seq: last.Seq})
	}
	return page, nil
}

func (r *MongoRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var u models.User
	if err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, wrap("mongo.GetUser", err)
	}
	return &u, nil
}

func (r *MongoRepository) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cur, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) GetUsers(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	users, err := r.findUsers(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, wrap("mongo.GetUsers", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *MongoRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	users, err := r.findUsers(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("mongo.ListUsers", err)
	}
	return users, nil
}

func (r *MongoRepository) SaveUser(ctx context.Context, u *models.User) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	return wrap("mongo.SaveUser", err)
}

func (r *MongoRepository) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("mongo.DeleteUser", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("mongo.DeleteUser", "user not found")
	}
	return nil
}

func (r *MongoRepository) PageUsers(ctx context.Context, cursor string, limit int, q string) (models.Page[models.User], error) {
	var and []bson.M
	if cursor != "" {
		var c userCursor
		if err := decodeCursor(cursor, &c); err != nil {
			return models.Page[models.User]{}, err
		}
		and = append(and, bson.M{"$or": []bson.M{
			{"name": bson.M{"$gt": c.Name}},
			{"name": c.Name, "_id": bson.M{"$gt": c.ID}},
		}})
	}
	if q != "" {
		and = append(and, likeFilter(q, "name", "email"))
	}
	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}

	ctx, cancel := r.ctx(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit) + 1)
	users, err := r.findUsers(ctx, filter, opts)
	if err != nil {
		return models.Page[models.User]{}, wrap("mongo.PageUsers", err)
	}

	page := models.Page[models.User]{Items: users}
	if len(users) > limit {
		page.Items = users[:limit]
		last := page.Items[limit-1]
		page.Next = encodeCursor(userCursor{Name: last.Name, ID: last.ID})
	}
	return page, nil
}

func (r *MongoRepository) CreateAccount(ctx context.Context, a *models.Account) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	a.Email = strings.ToLower(a.Email)
	_, err := r.accounts.InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("mongo.CreateAccount", "email already in use")
	}
	return wrap("mongo.CreateAccount", err)
}

func (r *MongoRepository) account(ctx context.Context, op string, filter bson.M) (*models.Account, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var a models.Account
	if err := r.accounts.FindOne(ctx, filter).Decode(&a); err != nil {
		return nil, wrap(op, err)
	}
	return &a, nil
}

func (r *MongoRepository) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.account(ctx, "mongo.AccountByEmail", bson.M{"email": strings.ToLower(email)})
}

func (r *MongoRepository) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	return r.account(ctx, "mongo.AccountByID", bson.M{"_id": id})
}

func (r *MongoRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.accounts.UpdateByID(ctx, id, bson.M{"$set": bson.M{"password_hash": hash}})
	if err != nil {
		return wrap("mongo.UpdatePassword", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("mongo.UpdatePassword", "account not found")
	}
	return nil
}

func (r *MongoRepository) SetPresence(ctx context.Context, p models.Presence) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.presence.UpdateByID(ctx, p.UserID,
		bson.M{"$set": bson.M{"is_online": p.IsOnline, "last_seen": p.LastSeen}},
		options.Update().SetUpsert(true))
	return wrap("mongo.SetPresence", err)
}

func (r *MongoRepository) ListPresence(ctx context.Context) ([]models.Presence, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.presence.Find(ctx, bson.M{})
	if err != nil {
		return nil, wrap("mongo.ListPresence", err)
	}
	defer cur.Close(ctx)
	out := []models.Presence{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("mongo.ListPresence", err)
	}
	return out, nil
}

func (r *MongoRepository) SetStatus(ctx context.Context, s models.Status) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.statuses.UpdateByID(ctx, s.UserID,
		bson.M{"$set": bson.M{"status": s.Status, "last_updated": s.LastUpdated}},
		options.Update().SetUpsert(true))
	return wrap("mongo.SetStatus", err)
}

func (r *MongoRepository) ListStatuses(ctx context.Context) ([]models.Status, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.statuses.Find(ctx, bson.M{})
	if err != nil {
		return nil, wrap("mongo.ListStatuses", err)
	}
	defer cur.Close(ctx)
	out := []models.Status{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("mongo.ListStatuses", err)
	}
	return out, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	return wrap("mongo.Ping", r.client.Ping(ctx, nil))
}

// Close disconnects the client.
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
