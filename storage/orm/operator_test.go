package orm

import (
	"context"
	"testing"

	tdd "github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func TestOperator(t *testing.T) {
	assert := tdd.New(t)

	// Connection settings
	conf := options.Client()
	conf.ApplyURI("mongodb://localhost:27017/?tls=false")
	conf.SetMinPoolSize(2)
	conf.SetAppName("testing-code")
	conf.SetDirect(true)
	conf.SetReadPreference(readpref.Primary())

	// Get operator
	op, err := NewOperator("testing", conf)
	assert.Nil(err, "new operator")

	// Ensure the MongoDB server is reachable
	if err := op.Ping(); err != nil {
		t.Skip("unavailable MongoDB server:", err.Error())
	}

	t.Run("Model", func(t *testing.T) {
		mod := op.Model("orm_smoke")
		assert.NotNil(mod.Collection, "collection")

		ctx := context.Background()
		res, err := mod.Collection.InsertOne(ctx, bson.M{"probe": "orm_smoke"})
		assert.Nil(err, "insert")

		sr := mod.Collection.FindOne(ctx, bson.M{"_id": res.InsertedID})
		assert.Nil(sr.Err(), "find")

		_, err = mod.Collection.DeleteOne(ctx, bson.M{"_id": res.InsertedID})
		assert.Nil(err, "delete")
	})

	// Disconnect
	assert.Nil(op.Close(context.Background()), "disconnect")
}
