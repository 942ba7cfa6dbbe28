// Package mongox opens MongoDB clients for services that use the document backend.
package mongox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Client struct {
	*mongo.Client
	database string
}

// Open connects to uri and pings the primary. The caller owns the client and must Close it.
func Open(ctx context.Context, uri, database string) (*Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if database == "" {
		return nil, errors.New("mongo database is empty")
	}
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Client{Client: client, database: database}, nil
}

func (c *Client) Database() *mongo.Database {
	return c.Client.Database(c.database)
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Disconnect(ctx)
}

func ReadyCheck(c *Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if c == nil || c.Client == nil {
			return errors.New("mongo not configured")
		}
		return c.Ping(ctx, readpref.Primary())
	}
}
