package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	submitCustomerMethod = "/masterdata.v1.CustomerService/SubmitCustomer"
	idempotencyHeader    = "idempotency-key"
)

// MasterDataGRPCClient submits approved customer records to the master-data
// system.
type MasterDataGRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewMasterDataGRPCClient creates a new master-data gRPC client.
func NewMasterDataGRPCClient(address string, timeout time.Duration) (*MasterDataGRPCClient, error) {
	conn, err := dial(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master-data service: %w", err)
	}
	return &MasterDataGRPCClient{conn: conn, timeout: timeout}, nil
}

// Close closes the gRPC connection
func (c *MasterDataGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SubmitRecord performs one submission. The idempotency key travels as
// metadata so the downstream can reject a replay.
func (c *MasterDataGRPCClient) SubmitRecord(ctx context.Context, record *MasterDataRecord, idempotencyKey string) (string, error) {
	req, err := record.ToStruct()
	if err != nil {
		return "", fmt.Errorf("failed to encode master-data record: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, idempotencyKey)

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, submitCustomerMethod, req, resp); err != nil {
		return "", fmt.Errorf("failed to submit customer record: %w", err)
	}

	ref := resp.GetFields()["customer_number"].GetStringValue()
	if ref == "" {
		return "", fmt.Errorf("master-data response carried no customer_number")
	}
	return ref, nil
}
