package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	kafka "github.com/tikivn/kafka-topic"
)

type kind int

const (
	intKind kind = iota
	boolKind
	stringKind
)

// rule describes an accepted option: its value kind and, for ints and
// enums, a validator tag constraining the value.
type rule struct {
	kind kind
	tag  string
}

func intRange(min, max int) rule {
	return rule{kind: intKind, tag: fmt.Sprintf("min=%d,max=%d", min, max)}
}

func enum(values ...string) rule {
	return rule{kind: stringKind, tag: "oneof=" + strings.Join(values, " ")}
}

var (
	boolean = rule{kind: boolKind}
	str     = rule{kind: stringKind}
)

type rules map[string]rule

var connectionRules = rules{
	"message_max_bytes":                       intRange(1000, 1000000000),
	"receive_message_max_bytes":               intRange(1000, 1000000000),
	"max_in_flight_requests_per_connection":   intRange(1000, 1000000),
	"metadata_request_timeout_ms":             intRange(10, 900000),
	"topic_metadata_refresh_interval_ms":      intRange(-1, 3600000),
	"topic_metadata_refresh_fast_cnt":         intRange(0, 1000),
	"topic_metadata_refresh_fast_interval_ms": intRange(1, 60000),
	"socket_timeout_ms":                       intRange(0, 300000),
	"socket_blocking_max_ms":                  intRange(1, 60000),
	"socket_send_buffer_bytes":                intRange(0, 100000000),
	"socket_receive_buffer_bytes":             intRange(0, 100000000),
	"socket_keepalive_enable":                 boolean,
	"socket_max_fails":                        intRange(0, 1000000),
	"broker_address_ttl":                      intRange(0, 86400000),
	"broker_address_family":                   enum("any", "v4", "v6"),
	"security_protocol":                       enum("plaintext", "ssl", "sasl_plaintext", "sasl_ssl"),
	"ssl_cipher_suites":                       str,
	"ssl_key_location":                        str,
	"ssl_key_password":                        str,
	"ssl_certificate_location":                str,
	"ssl_ca_location":                         str,
	"ssl_crl_location":                        str,
	"sasl_mechanisms":                         enum("GSSAPI", "PLAIN"),
	"sasl_kerberos_service_name":              str,
	"sasl_kerberos_principal":                 str,
	"sasl_kerberos_kinit_cmd":                 str,
	"sasl_kerberos_keytab":                    str,
	"sasl_kerberos_min_time_before_relogin":   intRange(1, 86400000),
	"sasl_username":                           str,
	"sasl_password":                           str,
	"group_id":                                str,
	"session_timeout_ms":                      intRange(1, 3600000),
	"heartbeat_interval_ms":                   intRange(1, 3600000),
}

var producerTopicRules = rules{
	"request_required_acks": intRange(-1, 1000),
	"request_timeout_ms":    intRange(1, 900000),
	"message_timeout_ms":    intRange(0, 900000),
	"produce_offset_report": boolean,
	"compression_codec":     enum("none", "gzip", "snappy", "lz4", "inherit"),
}

var consumerTopicRules = rules{
	"auto_commit_enable":            boolean,
	"auto_commit_interval_ms":       intRange(10, 86400000),
	"auto_offset_reset":             enum("smallest", "earliest", "largest", "latest", "error"),
	"offset_store_path":             str,
	"offset_store_sync_interval_ms": intRange(-1, 86400000),
	"offset_store_method":           enum("file", "broker"),
	"consume_callback_max_messages": intRange(-1, 1000000),
}

// apply checks every option of section against rs and returns them with
// normalized values. Unknown options are rejected.
func (rs rules) apply(section string, props map[string]interface{}) (kafka.Properties, error) {
	if len(props) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(kafka.Properties, len(props))
	var problems []string
	for _, name := range names {
		value, err := rs.check(name, props[name])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s.%s: %s", section, name, err))
			continue
		}
		out[name] = value
	}

	if len(problems) > 0 {
		return nil, errors.Wrap(kafka.ErrConfig, strings.Join(problems, "; "))
	}
	return out, nil
}

func (rs rules) check(name string, value interface{}) (interface{}, error) {
	r, ok := rs[name]
	if !ok {
		return nil, errors.New("unrecognized option")
	}

	switch r.kind {
	case intKind:
		n, err := cast.ToIntE(value)
		if err != nil {
			return nil, errors.Errorf("%v is not an integer", value)
		}
		if err := validate.Var(n, r.tag); err != nil {
			return nil, errors.Errorf("%d is out of range (%s)", n, r.tag)
		}
		return n, nil

	case boolKind:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, errors.Errorf("%v is not a boolean", value)
		}
		return b, nil

	default:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, errors.Errorf("%v is not a string", value)
		}
		if r.tag != "" {
			if err := validate.Var(s, r.tag); err != nil {
				return nil, errors.Errorf("%q is not one of the accepted values (%s)", s, strings.TrimPrefix(r.tag, "oneof="))
			}
		}
		return s, nil
	}
}
