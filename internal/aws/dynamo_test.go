package aws

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

func TestIsConditionFailed(t *testing.T) {
	wrapped := fmt.Errorf("update: %w", &types.ConditionalCheckFailedException{})
	if !IsConditionFailed(wrapped) {
		t.Fatalf("expected wrapped ConditionalCheckFailedException to match")
	}
	generic := &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}
	if !IsConditionFailed(generic) {
		t.Fatalf("expected generic API error code to match")
	}
	if IsConditionFailed(errors.New("boom")) {
		t.Fatalf("plain error must not match")
	}
}

func TestCancellationReasons(t *testing.T) {
	none, ccf := "None", "ConditionalCheckFailed"
	err := fmt.Errorf("transact: %w", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &none}, {Code: &ccf}, {}},
	})
	codes, ok := CancellationReasons(err)
	if !ok {
		t.Fatalf("expected transaction cancellation")
	}
	if len(codes) != 3 || codes[0] != "None" || codes[1] != "ConditionalCheckFailed" || codes[2] != "" {
		t.Fatalf("unexpected codes: %v", codes)
	}
	if _, ok := CancellationReasons(errors.New("x")); ok {
		t.Fatalf("plain error is not a cancellation")
	}
}
