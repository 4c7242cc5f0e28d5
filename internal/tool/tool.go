//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package tool provides internal utilities for tool schema generation.
package tool

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/tool"
)

// GenerateJSONSchema generates a basic JSON schema from a reflect.Type.
// Struct fields honor `json` tags for naming and `jsonschema` tags for
// description, enum values, and required markers. Nested structs are
// inlined; tool argument types are expected to stay flat.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	if t.Kind() != reflect.Struct {
		return generateFieldSchema(t)
	}

	schema := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		isOmitEmpty := false
		if jsonTag != "" {
			if commaIdx := strings.Index(jsonTag, ","); commaIdx != -1 {
				fieldName = jsonTag[:commaIdx]
				isOmitEmpty = strings.Contains(jsonTag[commaIdx:], "omitempty")
			} else {
				fieldName = jsonTag
			}
		}

		fieldSchema := generateFieldSchema(field.Type)

		isRequiredByTag, err := parseJSONSchemaTag(field.Type, field.Tag, fieldSchema)
		if err != nil {
			log.Errorf("parseJSONSchemaTag error for field %s: %v", fieldName, err)
		}

		// A field is required when it is a non-pointer without omitempty,
		// or explicitly marked required by tag.
		if (field.Type.Kind() != reflect.Ptr && !isOmitEmpty) || isRequiredByTag {
			required = append(required, fieldName)
		}

		schema.Properties[fieldName] = fieldSchema
	}

	if len(required) > 0 {
		schema.Required = required
	}
	return schema
}

// generateFieldSchema generates the schema for a single field type.
func generateFieldSchema(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{
			Type:  "array",
			Items: generateFieldSchema(t.Elem()),
		}
	case reflect.Map:
		return &tool.Schema{
			Type:                 "object",
			AdditionalProperties: generateFieldSchema(t.Elem()),
		}
	case reflect.Ptr:
		return generateFieldSchema(t.Elem())
	case reflect.Struct:
		nested := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			jsonTag := field.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}
			fieldName := field.Name
			if jsonTag != "" {
				if commaIdx := strings.Index(jsonTag, ","); commaIdx != -1 {
					fieldName = jsonTag[:commaIdx]
				} else {
					fieldName = jsonTag
				}
			}
			nested.Properties[fieldName] = generateFieldSchema(field.Type)
		}
		return nested
	default:
		return &tool.Schema{Type: "object"}
	}
}

// parseJSONSchemaTag parses a jsonschema struct tag and applies the settings
// to the schema. Supported forms:
//  1. jsonschema:"description=xxx"
//  2. jsonschema:"enum=xxx,enum=yyy" (values converted to the field type)
//  3. jsonschema:"required"
func parseJSONSchemaTag(fieldType reflect.Type, tag reflect.StructTag, schema *tool.Schema) (bool, error) {
	jsonSchemaTag := tag.Get("jsonschema")
	if len(jsonSchemaTag) == 0 {
		return false, nil
	}

	for fieldType.Kind() == reflect.Ptr {
		fieldType = fieldType.Elem()
	}

	isRequiredByTag := false
	for _, tagItem := range strings.Split(jsonSchemaTag, ",") {
		kv := strings.SplitN(tagItem, "=", 2)
		if len(kv) == 1 {
			if kv[0] == "required" {
				isRequiredByTag = true
			}
			continue
		}
		key, value := kv[0], kv[1]
		switch key {
		case "description":
			schema.Description = value
		case "enum":
			if schema.Enum == nil {
				schema.Enum = make([]any, 0)
			}
			switch fieldType.Kind() {
			case reflect.String:
				schema.Enum = append(schema.Enum, value)
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
				reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				v, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return false, fmt.Errorf("parse enum value %v to int64 failed: %w", value, err)
				}
				schema.Enum = append(schema.Enum, v)
			case reflect.Float32, reflect.Float64:
				v, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return false, fmt.Errorf("parse enum value %v to float64 failed: %w", value, err)
				}
				schema.Enum = append(schema.Enum, v)
			case reflect.Bool:
				v, err := strconv.ParseBool(value)
				if err != nil {
					return false, fmt.Errorf("parse enum value %v to bool failed: %w", value, err)
				}
				schema.Enum = append(schema.Enum, v)
			default:
				return false, fmt.Errorf("enum tag unsupported for field type: %v", fieldType)
			}
		}
	}

	return isRequiredByTag, nil
}
