// Package glue stores the shared policy as the AWS Glue Data Catalog resource
// policy. The Glue policy hash is the revision token.
package glue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
)

// API is the subset of the Glue client the store calls.
type API interface {
	GetResourcePolicy(ctx context.Context, params *glue.GetResourcePolicyInput, optFns ...func(*glue.Options)) (*glue.GetResourcePolicyOutput, error)
	PutResourcePolicy(ctx context.Context, params *glue.PutResourcePolicyInput, optFns ...func(*glue.Options)) (*glue.PutResourcePolicyOutput, error)
	DeleteResourcePolicy(ctx context.Context, params *glue.DeleteResourcePolicyInput, optFns ...func(*glue.Options)) (*glue.DeleteResourcePolicyOutput, error)
}

var _ API = (*glue.Client)(nil)

type Store struct {
	client       API
	resourceARN  string
	enableHybrid bool
}

type Option func(*Store)

// WithResourceARN targets a specific catalog resource. Empty targets the
// account's default Data Catalog.
func WithResourceARN(arn string) Option {
	return func(s *Store) {
		s.resourceARN = arn
	}
}

// WithEnableHybrid sets EnableHybrid=TRUE on writes so the policy can coexist
// with Lake Formation grants.
func WithEnableHybrid(enabled bool) Option {
	return func(s *Store) {
		s.enableHybrid = enabled
	}
}

func New(client API, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("glue client is required")
	}
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Fetch(ctx context.Context) (*policy.Document, policystore.Version, error) {
	out, err := s.client.GetResourcePolicy(ctx, &glue.GetResourcePolicyInput{
		ResourceArn: s.arn(),
	})
	if err != nil {
		return nil, policystore.NoVersion, s.translate("fetch", err)
	}
	if aws.ToString(out.PolicyInJson) == "" {
		return nil, policystore.NoVersion, policystore.NotFound("glue resource policy %s", s.target())
	}

	doc, err := policy.ParseDocument([]byte(aws.ToString(out.PolicyInJson)))
	if err != nil {
		return nil, policystore.NoVersion, policystore.Transport("fetch", fmt.Errorf("malformed glue resource policy: %w", err))
	}
	return doc, policystore.Version(aws.ToString(out.PolicyHash)), nil
}

// Replace writes doc guarded by precondition. Glue rejects a policy with no
// statements, so an empty document deletes the policy instead.
func (s *Store) Replace(ctx context.Context, doc *policy.Document, precondition policystore.Version) error {
	if doc.IsEmpty() {
		return s.delete(ctx, precondition)
	}

	data, err := doc.Marshal()
	if err != nil {
		return policystore.Transport("replace", err)
	}

	in := &glue.PutResourcePolicyInput{
		PolicyInJson: aws.String(string(data)),
		ResourceArn:  s.arn(),
	}
	if precondition.IsAbsent() {
		in.PolicyExistsCondition = types.ExistConditionNotExist
	} else {
		in.PolicyExistsCondition = types.ExistConditionMustExist
		in.PolicyHashCondition = aws.String(string(precondition))
	}
	if s.enableHybrid {
		in.EnableHybrid = types.EnableHybridValuesTrue
	}

	if _, err := s.client.PutResourcePolicy(ctx, in); err != nil {
		return s.translate("replace", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, precondition policystore.Version) error {
	if precondition.IsAbsent() {
		// Nothing exists and nothing is wanted.
		return nil
	}
	_, err := s.client.DeleteResourcePolicy(ctx, &glue.DeleteResourcePolicyInput{
		PolicyHashCondition: aws.String(string(precondition)),
		ResourceArn:         s.arn(),
	})
	if err != nil {
		var notFound *types.EntityNotFoundException
		if errors.As(err, &notFound) {
			// Someone else removed it after our fetch; our view is stale.
			return policystore.Conflict("glue resource policy %s disappeared", s.target())
		}
		return s.translate("delete", err)
	}
	return nil
}

func (s *Store) translate(op string, err error) error {
	var (
		notFound   *types.EntityNotFoundException
		condition  *types.ConditionCheckFailureException
		concurrent *types.ConcurrentModificationException
	)
	switch {
	case errors.As(err, &notFound):
		if op == "fetch" {
			return policystore.NotFound("glue resource policy %s", s.target())
		}
		return policystore.Conflict("glue resource policy %s: %s", s.target(), notFound.ErrorMessage())
	case errors.As(err, &condition):
		return policystore.Conflict("glue resource policy %s: %s", s.target(), condition.ErrorMessage())
	case errors.As(err, &concurrent):
		return policystore.Conflict("glue resource policy %s: %s", s.target(), concurrent.ErrorMessage())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return policystore.Transport(op, fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
	}
	return policystore.Transport(op, err)
}

func (s *Store) arn() *string {
	if s.resourceARN == "" {
		return nil
	}
	return aws.String(s.resourceARN)
}

func (s *Store) target() string {
	if s.resourceARN == "" {
		return "(default catalog)"
	}
	return s.resourceARN
}
