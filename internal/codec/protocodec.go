package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// resolveProtoDescriptor extracts the message descriptor named by the
// schema from a serialized FileDescriptorSet definition.
func resolveProtoDescriptor(schemaName string, definition []byte) (protoreflect.MessageDescriptor, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(definition, &fds); err != nil {
		return nil, fmt.Errorf("definition is not a FileDescriptorSet: %w", err)
	}
	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor set: %w", err)
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(schemaName))
	if err != nil {
		return nil, fmt.Errorf("message %q not found in descriptor set: %w", schemaName, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%q is not a message type", schemaName)
	}
	return md, nil
}

func newProtoDecoder(schemaName string, md protoreflect.MessageDescriptor) DecoderFunc {
	return func(data []byte) (any, error) {
		msg := dynamicpb.NewMessage(md)
		if err := proto.Unmarshal(data, msg); err != nil {
			return nil, DecodeError{Schema: schemaName, Reason: err.Error()}
		}
		return msg, nil
	}
}

func newProtoEncoder(schemaName string) EncoderFunc {
	return func(v any) ([]byte, error) {
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, EncodeError{Schema: schemaName, Reason: fmt.Sprintf("expected proto.Message, got %T", v)}
		}
		data, err := proto.Marshal(msg)
		if err != nil {
			return nil, EncodeError{Schema: schemaName, Reason: err.Error()}
		}
		return data, nil
	}
}
