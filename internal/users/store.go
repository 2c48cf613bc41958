package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/pagination"
)

// Store encapsulates operations on the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// TableName is the users table this store writes to.
func (s *Store) TableName() string { return s.tableName }

// Create stores a new user together with its email lock in one transaction.
func (s *Store) Create(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Cart == nil {
		u.Cart = map[string]int{}
	}
	now := s.nowFunc().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	lock, err := attributevalue.MarshalMap(emailLock{Key: emailLockKey(u.Email), OwnerID: u.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal email lock: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
		},
	})
	if err != nil {
		if codes, ok := aws.CancellationReasons(err); ok && len(codes) > 0 && codes[0] == "ConditionalCheckFailed" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// Get fetches a user by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	if strings.HasPrefix(id, "email#") {
		return nil, nil
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            userKey(id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	u.Cart = compactCart(u.Cart)
	return &u, nil
}

// GetByEmail resolves the email lock and loads its owner. Returns (nil, nil)
// if no user has that email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            userKey(emailLockKey(email)),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get email lock: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var lock emailLock
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("unmarshal email lock: %w", err)
	}
	return s.Get(ctx, lock.OwnerID)
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       userKey(id),
		UpdateExpression:          aws.String("SET last_login_at = :now"),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": aws.S(s.stamp())},
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

// UpdateProfile applies upd and returns the stored user. Changing the email
// moves the email lock in the same transaction.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	sets := []string{"#updated_at = :now"}
	names := map[string]string{"#updated_at": "updated_at"}
	values := map[string]types.AttributeValue{":now": aws.S(s.stamp())}
	add := func(attr string, v types.AttributeValue) {
		sets = append(sets, "#"+attr+" = :"+attr)
		names["#"+attr] = attr
		values[":"+attr] = v
	}
	if upd.Name != nil {
		add("name", aws.S(strings.TrimSpace(*upd.Name)))
	}
	if upd.PasswordHash != nil {
		add("password_hash", aws.S(*upd.PasswordHash))
	}
	if upd.Phone != nil {
		add("phone", aws.S(*upd.Phone))
	}
	if upd.Address != nil {
		av, err := attributevalue.Marshal(upd.Address)
		if err != nil {
			return nil, fmt.Errorf("marshal address: %w", err)
		}
		add("address", av)
	}
	if upd.Preferences != nil {
		av, err := attributevalue.Marshal(upd.Preferences)
		if err != nil {
			return nil, fmt.Errorf("marshal preferences: %w", err)
		}
		add("preferences", av)
	}

	var newEmail string
	if upd.Email != nil && NormalizeEmail(*upd.Email) != current.Email {
		newEmail = NormalizeEmail(*upd.Email)
		add("email", aws.S(newEmail))
	}

	userUpdate := &types.Update{
		TableName:                 &s.tableName,
		Key:                       userKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	if newEmail == "" {
		_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 userUpdate.TableName,
			Key:                       userUpdate.Key,
			UpdateExpression:          userUpdate.UpdateExpression,
			ConditionExpression:       userUpdate.ConditionExpression,
			ExpressionAttributeNames:  userUpdate.ExpressionAttributeNames,
			ExpressionAttributeValues: userUpdate.ExpressionAttributeValues,
		})
		if err != nil {
			if aws.IsConditionFailed(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("update profile: %w", err)
		}
		return s.Get(ctx, id)
	}

	lock, err := attributevalue.MarshalMap(emailLock{Key: emailLockKey(newEmail), OwnerID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal email lock: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Delete: &types.Delete{
				TableName:                 &s.tableName,
				Key:                       userKey(emailLockKey(current.Email)),
				ConditionExpression:       aws.String("owner_id = :owner"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":owner": aws.S(id)},
			}},
			{Update: userUpdate},
		},
	})
	if err != nil {
		if codes, ok := aws.CancellationReasons(err); ok && len(codes) > 0 && codes[0] == "ConditionalCheckFailed" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns users matching search (name or email, case-insensitive),
// newest first.
func (s *Store) List(ctx context.Context, search string, page, limit int) ([]User, pagination.Meta, error) {
	all, err := s.scanUsers(ctx)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	matched := make([]User, 0, len(all))
	for _, u := range all {
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(u.Email, needle) {
			continue
		}
		matched = append(matched, u)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	page, limit = pagination.Normalize(page, limit)
	start, end, meta := pagination.Window(page, limit, len(matched))
	return matched[start:end], meta, nil
}

// Stats counts all users, those registered in the last 30 days and those who
// logged in during the last 7 days.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	all, err := s.scanUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := s.nowFunc()
	recentCutoff := now.AddDate(0, 0, -30)
	activeCutoff := now.AddDate(0, 0, -7)

	st := Stats{TotalUsers: len(all)}
	for _, u := range all {
		if u.CreatedAt.After(recentCutoff) {
			st.RecentUsers++
		}
		if u.LastLoginAt != nil && u.LastLoginAt.After(activeCutoff) {
			st.ActiveUsers++
		}
	}
	return st, nil
}

func (s *Store) scanUsers(ctx context.Context) ([]User, error) {
	var (
		out      []User
		startKey map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			FilterExpression:  aws.String("attribute_exists(email)"),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}
		var page []User
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal users: %w", err)
		}
		for i := range page {
			page[i].Cart = compactCart(page[i].Cart)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = res.LastEvaluatedKey
	}
}

func (s *Store) stamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"user_id": aws.S(id)}
}

func boolPtr(b bool) *bool { return &b }
