package executors

import (
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

var (
	validatorOnce sync.Once
	validator     *validation.JSONSchemaValidator
	validatorErr  error
)

func configValidator() (*validation.JSONSchemaValidator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = validation.NewJSONSchemaValidator()
	})
	return validator, validatorErr
}

// decodeConfig validates a node's opaque data against configSchema and
// decodes it into out. Every failure is VALIDATION_ERROR.
func decodeConfig(data map[string]any, configSchema string, out any) error {
	v, err := configValidator()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "config validator unavailable").WithCause(err)
	}
	if err := v.ValidateConfig(data, []byte(configSchema)); err != nil {
		return err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "build config decoder").WithCause(err)
	}
	if err := dec.Decode(data); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "decode node config: %s", err.Error()).WithCause(err)
	}
	return nil
}
