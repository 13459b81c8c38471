// Package dynamo implements the book store on a DynamoDB table keyed by isbn.
package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// TableAPI is the subset of the DynamoDB client the store uses.
type TableAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// item is the stored shape of a book.
type item struct {
	ISBN      string `dynamodbav:"isbn"`
	Title     string `dynamodbav:"title"`
	Year      int    `dynamodbav:"year"`
	Author    string `dynamodbav:"author"`
	Publisher string `dynamodbav:"publisher"`
	Rating    int    `dynamodbav:"rating"`
	Pages     int    `dynamodbav:"pages"`
}

func fromBook(b domain.Book) item {
	return item(b)
}

func (i item) book() domain.Book {
	return domain.Book(i)
}

// Store is a DynamoDB implementation of BookStore.
type Store struct {
	api   TableAPI
	table string
}

var _ ports.BookStore = (*Store)(nil)

// New creates a store over table.
func New(api TableAPI, table string) *Store {
	return &Store{api: api, table: table}
}

// NewFromConfig creates a store using the default DynamoDB client.
func NewFromConfig(cfg aws.Config, table string) *Store {
	return New(dynamodb.NewFromConfig(cfg), table)
}

func (s *Store) key(isbn string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"isbn": &types.AttributeValueMemberS{Value: isbn},
	}
}

func (s *Store) PutBook(ctx context.Context, book domain.Book) error {
	av, err := attributevalue.MarshalMap(fromBook(book))
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put book: %w", err)
	}
	return nil
}

// GetBook issues a strongly consistent read.
func (s *Store) GetBook(ctx context.Context, isbn string) (*domain.Book, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(isbn),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("book %s: %w", isbn, domain.ErrNotFound)
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book: %w", err)
	}
	b := it.book()
	return &b, nil
}

// DeleteBook is unconditional, so deleting an absent key succeeds.
func (s *Store) DeleteBook(ctx context.Context, isbn string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(isbn),
	})
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	books := []domain.Book{}
	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan books: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal books: %w", err)
		}
		for _, it := range items {
			books = append(books, it.book())
		}
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].ISBN < books[j].ISBN
	})
	return books, nil
}

func (s *Store) Close() error {
	return nil
}
