package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"followup-templates/internal/models"
	"followup-templates/internal/vertical"
)

// Item layout:
//
//	PK = STEP#<stepKey>   SK = TPL#<vertical>#<channel or ANY>#<id>   template
//	PK = TPLID#<id>       SK = META                                  where the template lives
const (
	pkPrefixStep = "STEP#"
	pkPrefixID   = "TPLID#"
	skPrefixTpl  = "TPL#"
	skMeta       = "META"
	skAnyChannel = "ANY"
)

// dynamodbAPI is the subset of *dynamodb.Client the accessor uses.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoAccessor reads templates from a single DynamoDB table.
type DynamoAccessor struct {
	api       dynamodbAPI
	tableName string
}

func NewDynamoAccessor(api dynamodbAPI, tableName string) (*DynamoAccessor, error) {
	if api == nil {
		return nil, errors.New("catalog: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("catalog: dynamodb table name must not be empty")
	}
	return &DynamoAccessor{api: api, tableName: tableName}, nil
}

func stepPK(stepKey string) string {
	return pkPrefixStep + stepKey
}

func idPK(id string) string {
	return pkPrefixID + id
}

func channelSegment(c models.Channel) string {
	if c == models.ChannelAny {
		return skAnyChannel
	}
	return string(c)
}

func templateSK(t models.Template) string {
	return skPrefixTpl + t.Vertical + "#" + channelSegment(t.Channel) + "#" + t.ID
}

// skPrefix narrows the sort key as far as the query allows. A channel filter
// without a vertical cannot be expressed as a prefix and is filtered instead.
func skPrefix(q Query) string {
	if q.Vertical == "" {
		return skPrefixTpl
	}
	prefix := skPrefixTpl + q.Vertical.String() + "#"
	if q.Channel != models.ChannelAny {
		prefix += string(q.Channel) + "#"
	}
	return prefix
}

func (a *DynamoAccessor) First(ctx context.Context, q Query) (*models.Template, error) {
	templates, err := a.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, nil
	}
	return &templates[0], nil
}

func (a *DynamoAccessor) Find(ctx context.Context, q Query) ([]models.Template, error) {
	var (
		items [][]map[string]types.AttributeValue
		err   error
	)
	if q.StepKey == "" {
		items, err = a.scan(ctx, q)
	} else {
		items, err = a.query(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	templates := make([]models.Template, 0)
	for _, page := range items {
		for _, item := range page {
			t, err := itemToTemplate(item)
			if err != nil {
				return nil, fmt.Errorf("catalog: decode template item: %w", err)
			}
			templates = append(templates, t)
		}
	}
	sortTemplates(templates)
	return templates, nil
}

func (a *DynamoAccessor) query(ctx context.Context, q Query) ([][]map[string]types.AttributeValue, error) {
	filter, values := filterExpression(q, q.Vertical == "" && q.Channel != models.ChannelAny)
	values[":pk"] = &types.AttributeValueMemberS{Value: stepPK(q.StepKey)}
	values[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix(q)}

	var (
		pages     [][]map[string]types.AttributeValue
		startFrom map[string]types.AttributeValue
	)
	for {
		out, err := a.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(a.tableName),
			KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: dynamodb query: %w", err)
		}
		pages = append(pages, out.Items)
		if len(out.LastEvaluatedKey) == 0 {
			return pages, nil
		}
		startFrom = out.LastEvaluatedKey
	}
}

func (a *DynamoAccessor) scan(ctx context.Context, q Query) ([][]map[string]types.AttributeValue, error) {
	filter, values := filterExpression(q, q.Channel != models.ChannelAny)
	filter += " AND begins_with(SK, :tpl)"
	values[":tpl"] = &types.AttributeValueMemberS{Value: skPrefixTpl}
	if q.Vertical != "" {
		filter += " AND vertical = :vertical"
		values[":vertical"] = &types.AttributeValueMemberS{Value: q.Vertical.String()}
	}

	var (
		pages     [][]map[string]types.AttributeValue
		startFrom map[string]types.AttributeValue
	)
	for {
		out, err := a.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(a.tableName),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: dynamodb scan: %w", err)
		}
		pages = append(pages, out.Items)
		if len(out.LastEvaluatedKey) == 0 {
			return pages, nil
		}
		startFrom = out.LastEvaluatedKey
	}
}

func filterExpression(q Query, withChannel bool) (string, map[string]types.AttributeValue) {
	filter := "is_active = :active"
	values := map[string]types.AttributeValue{
		":active": &types.AttributeValueMemberBOOL{Value: true},
	}
	if withChannel {
		filter += " AND channel = :channel"
		values[":channel"] = &types.AttributeValueMemberS{Value: string(q.Channel)}
	}
	return filter, values
}

// Upsert writes each template as its own item. A template whose step,
// vertical or channel changed is moved: the item under its previous key is
// deleted in the same transaction.
func (a *DynamoAccessor) Upsert(ctx context.Context, templates []models.Template) error {
	for i := range templates {
		t := templates[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Vertical == "" {
			t.Vertical = vertical.Generic.String()
		}

		prevPK, prevSK, err := a.location(ctx, t.ID)
		if err != nil {
			return err
		}

		pk, sk := stepPK(t.StepKey), templateSK(t)
		writes := []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(a.tableName), Item: templateItem(t)}},
			{Put: &types.Put{TableName: aws.String(a.tableName), Item: locationItem(t.ID, pk, sk)}},
		}
		if prevPK != "" && (prevPK != pk || prevSK != sk) {
			writes = append(writes, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(a.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: prevPK},
					"SK": &types.AttributeValueMemberS{Value: prevSK},
				},
			}})
		}

		if _, err := a.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
			return fmt.Errorf("catalog: put template %s: %w", t.ID, err)
		}
		templates[i] = t
	}
	return nil
}

// location returns the key of the stored item for id, or empty strings when
// the template was never written.
func (a *DynamoAccessor) location(ctx context.Context, id string) (string, string, error) {
	out, err := a.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: idPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("catalog: get template location %s: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", "", nil
	}
	pk, err := strAttr(out.Item, "ref_pk")
	if err != nil {
		return "", "", fmt.Errorf("catalog: decode template location %s: %w", id, err)
	}
	sk, err := strAttr(out.Item, "ref_sk")
	if err != nil {
		return "", "", fmt.Errorf("catalog: decode template location %s: %w", id, err)
	}
	return pk, sk, nil
}

func locationItem(id, pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: idPK(id)},
		"SK":     &types.AttributeValueMemberS{Value: skMeta},
		"ref_pk": &types.AttributeValueMemberS{Value: pk},
		"ref_sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func templateItem(t models.Template) map[string]types.AttributeValue {
	if t.Vertical == "" {
		t.Vertical = vertical.Generic.String()
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: stepPK(t.StepKey)},
		"SK":        &types.AttributeValueMemberS{Value: templateSK(t)},
		"id":        &types.AttributeValueMemberS{Value: t.ID},
		"step_key":  &types.AttributeValueMemberS{Value: t.StepKey},
		"vertical":  &types.AttributeValueMemberS{Value: t.Vertical},
		"channel":   &types.AttributeValueMemberS{Value: string(t.Channel)},
		"tone":      &types.AttributeValueMemberS{Value: string(t.Tone)},
		"content":   &types.AttributeValueMemberS{Value: t.Content},
		"subject":   &types.AttributeValueMemberS{Value: t.Subject},
		"is_active": &types.AttributeValueMemberBOOL{Value: t.IsActive},
		"priority":  &types.AttributeValueMemberN{Value: strconv.Itoa(t.Priority)},
	}
}

func itemToTemplate(item map[string]types.AttributeValue) (models.Template, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return models.Template{}, err
	}
	stepKey, err := strAttr(item, "step_key")
	if err != nil {
		return models.Template{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return models.Template{}, err
	}
	priority, err := intAttr(item, "priority")
	if err != nil {
		return models.Template{}, err
	}
	v, _ := strAttr(item, "vertical") // allow empty
	if v == "" {
		v = vertical.Generic.String()
	}
	channel, _ := strAttr(item, "channel")
	tone, _ := strAttr(item, "tone")
	subject, _ := strAttr(item, "subject")

	active := false
	if b, ok := item["is_active"].(*types.AttributeValueMemberBOOL); ok {
		active = b.Value
	}

	return models.Template{
		ID:       id,
		StepKey:  stepKey,
		Vertical: v,
		Channel:  models.Channel(channel),
		Tone:     models.Tone(tone),
		Content:  content,
		Subject:  subject,
		IsActive: active,
		Priority: priority,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
