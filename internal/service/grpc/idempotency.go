package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Без ключа в metadata запрос выполняется как обычно.
func (s *CheckoutService) withIdempotency(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	handler func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	key := metadataValue(ctx, idempotencyKeyHeader)
	if s.idemRepo == nil || key == "" {
		return handler(ctx)
	}

	reqHash, err := requestHash(method, metadataValue(ctx, authorizationHeader), req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, key, reqHash, s.now().Add(idempotencyTTL))
	if err != nil {
		return s.replay(err, record)
	}

	resp, runErr := handler(ctx)
	// Запись результата не должна зависеть от того, дождался ли клиент ответа.
	storeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		s.storeFailure(storeCtx, key, runErr)
		return nil, runErr
	}
	if err := s.storeSuccess(storeCtx, key, resp); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, nil
}

func (s *CheckoutService) replay(createErr error, record domain.IdempotencyRecord) (*structpb.Struct, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			resp := new(structpb.Struct)
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		return nil, status.Error(codes.InvalidArgument, createErr.Error())
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *CheckoutService) storeSuccess(ctx context.Context, key string, resp *structpb.Struct) error {
	data, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *CheckoutService) storeFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		payload = nil
	}
	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"code":            code.String(),
		}).Warn("failed to store idempotency failure")
	}
}

func decodeFailure(record domain.IdempotencyRecord) error {
	const fallback = "previous request with the same idempotency key failed"

	var payload idempotencyErrorPayload
	if len(record.ResponseBody) > 0 && json.Unmarshal(record.ResponseBody, &payload) == nil {
		if code, ok := grpcCode(int64(payload.Code)); ok && code != codes.OK {
			if payload.Message == "" {
				payload.Message = fallback
			}
			return status.Error(code, payload.Message)
		}
	}
	if code, ok := grpcCode(int64(record.StatusCode)); ok && code != codes.OK {
		return status.Error(code, fallback)
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

// requestHash привязывает ключ к методу, телу и владельцу сессии.
func requestHash(method, credential string, req proto.Message) (string, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(credential))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(key) {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
