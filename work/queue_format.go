package work

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Queue files are YAML unless their extension says TOML or JSON.
const (
	formatYAML = "yaml"
	formatTOML = "toml"
	formatJSON = "json"
)

//go:embed queue.schema.json
var queueSchemaSource string

const queueSchemaURL = "queue.schema.json"

var queueSchema = jsonschema.MustCompileString(queueSchemaURL, queueSchemaSource)

func queueFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML
	case ".json":
		return formatJSON
	}
	return formatYAML
}

func decodeQueue(path string, data []byte) (*queueFile, error) {
	var file queueFile
	var err error
	switch queueFormat(path) {
	case formatTOML:
		_, err = toml.Decode(string(data), &file)
	case formatJSON:
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func encodeQueue(path string, file *queueFile) ([]byte, error) {
	switch queueFormat(path) {
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(file); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatJSON:
		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return yaml.Marshal(file)
}

// validateQueue checks the decoded file against the queue schema, whatever format it was
// written in.
func validateQueue(file *queueFile) error {
	items := file.Items
	if items == nil {
		items = []QueueItem{}
	}
	data, err := json.Marshal(queueFile{Items: items})
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	err = queueSchema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	var problems []string
	collectSchemaErrors(&problems, ve)
	return fmt.Errorf("%s", strings.Join(problems, "; "))
}

func collectSchemaErrors(problems *[]string, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		*problems = append(*problems, fmt.Sprintf("%s: %s", location, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(problems, cause)
	}
}
