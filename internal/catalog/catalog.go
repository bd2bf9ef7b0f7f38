// Package catalog declares the entity collections of the book-lending
// catalog: their document schemas, schema-version migrations, and the
// remote table / change-feed topic each one replicates against.
package catalog

import (
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/store"
)

const (
	Books    = "books"
	Requests = "requests"
	Profiles = "profiles"
)

// CollectionDef binds one collection to its remote counterparts.
type CollectionDef struct {
	Name       string
	Table      string
	Topic      string
	Schema     store.Schema
	Migrations map[int]store.Migration
}

func bookSchema() store.Schema {
	return store.Schema{
		Version: 1,
		Fields: map[string]store.Field{
			"id":                   {Type: store.FieldString, Required: true, MaxLength: 100},
			"ownerId":              {Type: store.FieldString, Required: true, MaxLength: 100},
			"ownerName":            {Type: store.FieldString},
			"imageUrl":             {Type: store.FieldString, Required: true},
			"category":             {Type: store.FieldString, Required: true},
			"status":               {Type: store.FieldString, Required: true},
			"currentBorrowerId":    {Type: store.FieldString, MaxLength: 100},
			"currentBorrowerName":  {Type: store.FieldString},
			"currentBorrowerPhone": {Type: store.FieldString},
			"createdAt":            {Type: store.FieldNumber, Required: true, Min: ptr(0), Max: ptr(1e14)},
			"updatedAt":            {Type: store.FieldString, Required: true, MaxLength: 100},
		},
	}
}

func requestSchema() store.Schema {
	return store.Schema{
		Version: 0,
		Fields: map[string]store.Field{
			"id":            {Type: store.FieldString, Required: true, MaxLength: 100},
			"bookId":        {Type: store.FieldString, Required: true, MaxLength: 100},
			"bookImageUrl":  {Type: store.FieldString},
			"lenderId":      {Type: store.FieldString, Required: true, MaxLength: 100},
			"lenderName":    {Type: store.FieldString},
			"lenderPhone":   {Type: store.FieldString},
			"borrowerId":    {Type: store.FieldString, Required: true, MaxLength: 100},
			"borrowerName":  {Type: store.FieldString},
			"borrowerPhone": {Type: store.FieldString},
			"status":        {Type: store.FieldString, Required: true},
			"requestedAt":   {Type: store.FieldNumber, Required: true, Min: ptr(0), Max: ptr(1e14)},
			"updatedAt":     {Type: store.FieldString, Required: true, MaxLength: 100},
		},
	}
}

func profileSchema() store.Schema {
	return store.Schema{
		Version: 2,
		Fields: map[string]store.Field{
			"id":          {Type: store.FieldString, Required: true, MaxLength: 100},
			"name":        {Type: store.FieldString, Required: true},
			"email":       {Type: store.FieldString},
			"phoneNumber": {Type: store.FieldString},
			"avatarUrl":   {Type: store.FieldString},
			"isPublic":    {Type: store.FieldBool},
			"updatedAt":   {Type: store.FieldString, Required: true, MaxLength: 100},
		},
	}
}

func ptr(f float64) *float64 { return &f }

func identity(doc model.Document) (model.Document, error) { return doc, nil }

// Definitions returns the catalog's collections. Versions 1 and 2 of
// the earlier schemas changed index layout only, so their migrations
// are identity transforms.
func Definitions() []CollectionDef {
	return []CollectionDef{
		{
			Name:   Books,
			Table:  "books",
			Topic:  "bookclub.books",
			Schema: bookSchema(),
			Migrations: map[int]store.Migration{
				1: identity,
			},
		},
		{
			Name:   Requests,
			Table:  "requests",
			Topic:  "bookclub.requests",
			Schema: requestSchema(),
		},
		{
			Name:   Profiles,
			Table:  "profiles",
			Topic:  "bookclub.profiles",
			Schema: profileSchema(),
			Migrations: map[int]store.Migration{
				1: identity,
				2: identity,
			},
		},
	}
}

// Setup registers every catalog collection on the store.
func Setup(s *store.Store) error {
	for _, def := range Definitions() {
		if _, err := s.AddCollection(def.Name, def.Schema, def.Migrations); err != nil {
			return err
		}
	}
	return nil
}
