package orm

import (
	"go.mongodb.org/mongo-driver/mongo"
)

// Model instances serve as a thin wrapper around a MongoDB collection.
// The repository package talks to Collection directly (FindOneAndUpdate,
// UpdateOne, FindOne with conditional filters and $setOnInsert/$inc
// updates) rather than through a generic CRUD surface, since none of the
// domain's upsert/conditional-update semantics fit a one-size-fits-all
// helper API.
type Model struct {
	// MongoDB collection backing the model.
	Collection *mongo.Collection

	// Name of the model. Used also as collection name.
	name string
}
