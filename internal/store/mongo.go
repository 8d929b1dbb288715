package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eldtechnologies/whisper/internal/metrics"
	"github.com/eldtechnologies/whisper/internal/models"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
	connectRetries     = 3
	connectBackoff     = 500 * time.Millisecond
)

// MongoStore handles MongoDB operations for users and messages.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
}

type userDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Username       string             `bson:"username"`
	Email          string             `bson:"email"`
	Password       string             `bson:"password"`
	ProfilePicture string             `bson:"profilePicture"`
	IsOnline       bool               `bson:"isOnline"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Sender    primitive.ObjectID `bson:"sender"`
	Receiver  primitive.ObjectID `bson:"receiver"`
	Message   string             `bson:"message"`
	Seen      bool               `bson:"seen"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d *userDoc) model() *models.User {
	return &models.User{
		ID:             d.ID.Hex(),
		Username:       d.Username,
		Email:          d.Email,
		PasswordHash:   d.Password,
		ProfilePicture: d.ProfilePicture,
		IsOnline:       d.IsOnline,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func (d *messageDoc) model() models.Message {
	return models.Message{
		ID:        d.ID.Hex(),
		Sender:    d.Sender.Hex(),
		Receiver:  d.Receiver.Hex(),
		Body:      d.Message,
		Seen:      d.Seen,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(100)

	var (
		client *mongo.Client
		err    error
	)
	for i := 0; i < connectRetries; i++ {
		client, err = connectMongo(ctx, opts)
		if err == nil {
			break
		}
		if i == connectRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to mongodb: %w", errors.Join(err, ctx.Err()))
		case <-time.After(connectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return s, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "isOnline", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender", Value: 1},
			{Key: "receiver", Value: 1},
			{Key: "createdAt", Value: 1},
		},
	})
	return err
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// observe records a MongoDB operation latency.
func observe(start time.Time) {
	metrics.MongoLatency.Observe(time.Since(start).Seconds())
}

// now returns the current time at MongoDB's millisecond precision, so records
// returned to callers match what a later read would return.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// CreateUser creates a new user record.
func (s *MongoStore) CreateUser(ctx context.Context, username, email, passwordHash, picture string) (*models.User, error) {
	defer observe(time.Now())

	ts := now()
	doc := &userDoc{
		ID:             primitive.NewObjectID(),
		Username:       username,
		Email:          email,
		Password:       passwordHash,
		ProfilePicture: picture,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return doc.model(), nil
}

// GetUserByID retrieves a user by ID.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

// GetUserByEmail retrieves a user by email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	defer observe(time.Now())

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.model(), nil
}

// ListUsers returns all users ordered by username.
func (s *MongoStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{})
}

// ListOnlineUsers returns users whose online flag is set.
func (s *MongoStore) ListOnlineUsers(ctx context.Context) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{"isOnline": true})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M) ([]models.User, error) {
	defer observe(time.Now())

	cursor, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(docs))
	for i := range docs {
		users = append(users, *docs[i].model())
	}
	return users, nil
}

// UpdateUser replaces a user's credentials. It never touches the online flag.
func (s *MongoStore) UpdateUser(ctx context.Context, id, username, email, passwordHash string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	defer observe(time.Now())

	update := bson.M{"$set": bson.M{
		"username":  username,
		"email":     email,
		"password":  passwordHash,
		"updatedAt": now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return doc.model(), nil
}

// DeleteUser removes a user. It reports whether a user was deleted.
func (s *MongoStore) DeleteUser(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	defer observe(time.Now())

	res, err := s.users.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// SetOnline sets a user's online flag.
func (s *MongoStore) SetOnline(ctx context.Context, id string, online bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrInvalidID
	}

	defer observe(time.Now())

	_, err = s.users.UpdateByID(ctx, oid, bson.M{"$set": bson.M{"isOnline": online}})
	return err
}

// CountUsers returns the number of registered users.
func (s *MongoStore) CountUsers(ctx context.Context) (int64, error) {
	defer observe(time.Now())
	return s.users.CountDocuments(ctx, bson.M{})
}

// CreateMessage persists a new message with seen=false.
func (s *MongoStore) CreateMessage(ctx context.Context, sender, receiver, body string) (*models.Message, error) {
	senderID, err := primitive.ObjectIDFromHex(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidID, sender)
	}
	receiverID, err := primitive.ObjectIDFromHex(receiver)
	if err != nil {
		return nil, fmt.Errorf("%w: receiver %q", ErrInvalidID, receiver)
	}

	defer observe(time.Now())

	ts := now()
	doc := &messageDoc{
		ID:        primitive.NewObjectID(),
		Sender:    senderID,
		Receiver:  receiverID,
		Message:   body,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, err
	}

	msg := doc.model()
	return &msg, nil
}

// ListMessagesBetween returns the messages exchanged by a and b, oldest first.
func (s *MongoStore) ListMessagesBetween(ctx context.Context, a, b string) ([]models.Message, error) {
	aID, err := primitive.ObjectIDFromHex(a)
	if err != nil {
		return []models.Message{}, nil
	}
	bID, err := primitive.ObjectIDFromHex(b)
	if err != nil {
		return []models.Message{}, nil
	}

	defer observe(time.Now())

	filter := bson.M{"$or": bson.A{
		bson.M{"sender": aID, "receiver": bID},
		bson.M{"sender": bID, "receiver": aID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].model())
	}
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (s *MongoStore) CountMessages(ctx context.Context) (int64, error) {
	defer observe(time.Now())
	return s.messages.CountDocuments(ctx, bson.M{})
}
