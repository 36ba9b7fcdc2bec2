package postgres

import (
	"fmt"

	"github.com/tarenord/seqveil"
)

// SQLSTATEs raised by the installed procedures. MapSQLState translates them
// back into the package error taxonomy on the Go side.
const (
	SQLStateInvalidParameter      = "SV001"
	SQLStateTampered              = "SV002"
	SQLStateReversibilityFault    = "SV003"
	SQLStateConfigurationConflict = "SV004"
)

// configTableSQL returns the DDL for the single-row installation record.
func configTableSQL(schema string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s._seqveil_config (
			id int PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			salt bigint NOT NULL,
			default_rounds int NOT NULL,
			version text NOT NULL,
			installed_at timestamptz NOT NULL DEFAULT now()
		)
	`, schema)
}

// catalogSQL returns the DDL for the binding catalog. The partial unique
// index admits one active binding per derived column; retired rows stay
// behind so the parameters of historical identifiers remain on record.
func catalogSQL(schema string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s._seqveil_bindings (
			id text PRIMARY KEY,
			table_name text NOT NULL,
			source_column text NOT NULL,
			target_column text NOT NULL,
			data_bits int NOT NULL,
			cipher_key bigint NOT NULL,
			rounds int NOT NULL,
			time_bits int NOT NULL DEFAULT 0,
			time_bucket bigint NOT NULL DEFAULT 0,
			time_offset bigint NOT NULL DEFAULT 0,
			encrypt_time boolean NOT NULL DEFAULT FALSE,
			retired boolean NOT NULL DEFAULT FALSE,
			created_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS _seqveil_bindings_target_active
			ON %[1]s._seqveil_bindings (table_name, target_column) WHERE NOT retired;
	`, schema)
}

// functionsSQL generates the PL/pgSQL engine with the installation salt
// baked into the round function. The arithmetic must stay bit-for-bit
// identical to the Go implementation: the round function keys HMAC-SHA256
// with the big-endian key and salt words, hashes the big-endian value, and
// masks the leading eight digest bytes to the half width; permute and
// unpermute run the same swap structure as the Go loops; composition floors
// the bucket division and wraps the bucket number by two's-complement
// masking exactly as the Go side does.
func functionsSQL(schema string, salt uint32) string {
	return fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %[1]s.round_f(x bigint, half_bits int, key int)
RETURNS bigint
LANGUAGE sql
IMMUTABLE PARALLEL SAFE STRICT
AS $fn$
	SELECT ('x' || encode(substring(hmac(int8send(x), int4send(key) || int4send(%[2]d), 'sha256') FROM 1 FOR 8), 'hex'))::bit(64)::bigint
		& ((1::bigint << half_bits) - 1);
$fn$;

CREATE OR REPLACE FUNCTION %[1]s.permute(value bigint, bits int, key int, rounds int)
RETURNS bigint
LANGUAGE plpgsql
IMMUTABLE PARALLEL SAFE STRICT
AS $fn$
DECLARE
	half int;
	mask bigint;
	l bigint;
	r bigint;
	prev bigint;
BEGIN
	IF bits < 0 OR bits > 62 OR bits %% 2 <> 0 THEN
		RAISE EXCEPTION 'invalid parameter: bits=%% must be even and between 0 and 62', bits
			USING ERRCODE = '%[3]s';
	END IF;
	IF key < 0 THEN
		RAISE EXCEPTION 'invalid parameter: key=%% must not be negative', key
			USING ERRCODE = '%[3]s';
	END IF;
	IF rounds < 1 OR rounds > 32 THEN
		RAISE EXCEPTION 'invalid parameter: rounds=%% must be within [1, 32]', rounds
			USING ERRCODE = '%[3]s';
	END IF;
	IF value < 0 OR value > ((1::bigint << bits) - 1) THEN
		RAISE EXCEPTION 'invalid parameter: value=%% must fit the %%-bit domain', value, bits
			USING ERRCODE = '%[3]s';
	END IF;

	IF bits = 0 THEN
		RETURN 0;
	END IF;

	half := bits / 2;
	mask := (1::bigint << half) - 1;
	l := value >> half;
	r := value & mask;

	FOR i IN 1..rounds LOOP
		prev := r;
		r := l # %[1]s.round_f(r, half, key);
		l := prev;
	END LOOP;

	RETURN (r << half) | l;
END;
$fn$;

CREATE OR REPLACE FUNCTION %[1]s.unpermute(value bigint, bits int, key int, rounds int)
RETURNS bigint
LANGUAGE plpgsql
IMMUTABLE PARALLEL SAFE STRICT
AS $fn$
DECLARE
	half int;
	mask bigint;
	l bigint;
	r bigint;
	prev bigint;
BEGIN
	IF bits < 0 OR bits > 62 OR bits %% 2 <> 0 THEN
		RAISE EXCEPTION 'invalid parameter: bits=%% must be even and between 0 and 62', bits
			USING ERRCODE = '%[3]s';
	END IF;
	IF key < 0 THEN
		RAISE EXCEPTION 'invalid parameter: key=%% must not be negative', key
			USING ERRCODE = '%[3]s';
	END IF;
	IF rounds < 1 OR rounds > 32 THEN
		RAISE EXCEPTION 'invalid parameter: rounds=%% must be within [1, 32]', rounds
			USING ERRCODE = '%[3]s';
	END IF;
	IF value < 0 OR value > ((1::bigint << bits) - 1) THEN
		RAISE EXCEPTION 'invalid parameter: value=%% must fit the %%-bit domain', value, bits
			USING ERRCODE = '%[3]s';
	END IF;

	IF bits = 0 THEN
		RETURN 0;
	END IF;

	half := bits / 2;
	mask := (1::bigint << half) - 1;
	l := value & mask;
	r := value >> half;

	FOR i IN 1..rounds LOOP
		prev := l;
		l := r # %[1]s.round_f(l, half, key);
		r := prev;
	END LOOP;

	RETURN (l << half) | r;
END;
$fn$;

CREATE OR REPLACE FUNCTION %[1]s.compose(
	source bigint,
	data_bits int,
	key int,
	rounds int,
	time_bits int,
	time_bucket bigint,
	time_offset bigint,
	encrypt_time boolean,
	at timestamptz DEFAULT now()
)
RETURNS bigint
LANGUAGE plpgsql
STRICT
AS $fn$
DECLARE
	budget int;
	t_mask bigint;
	t_value bigint;
	data bigint;
BEGIN
	IF time_bits < 0 THEN
		RAISE EXCEPTION 'configuration conflict: time_bits=%% must not be negative', time_bits
			USING ERRCODE = '%[4]s';
	END IF;
	IF time_bits > 0 AND time_bucket < 1 THEN
		RAISE EXCEPTION 'configuration conflict: time_bucket=%% must be at least 1 second when time_bits > 0', time_bucket
			USING ERRCODE = '%[4]s';
	END IF;
	IF time_bits > 0 AND encrypt_time AND (time_bits < 2 OR time_bits %% 2 <> 0) THEN
		RAISE EXCEPTION 'configuration conflict: encrypted time prefix needs an even width of at least 2 bits, got %%', time_bits
			USING ERRCODE = '%[4]s';
	END IF;
	budget := CASE WHEN encrypt_time THEN 62 ELSE 63 END;
	IF time_bits + data_bits > budget THEN
		RAISE EXCEPTION 'configuration conflict: time_bits + data_bits = %% exceeds the %%-bit budget', time_bits + data_bits, budget
			USING ERRCODE = '%[4]s';
	END IF;

	data := %[1]s.permute(source, data_bits, key, rounds);
	IF time_bits = 0 THEN
		RETURN data;
	END IF;

	t_mask := CASE WHEN time_bits >= 63 THEN 9223372036854775807 ELSE (1::bigint << time_bits) - 1 END;
	t_value := (floor((floor(extract(epoch FROM at))::bigint + time_offset)::numeric / time_bucket)::bigint) & t_mask;
	IF encrypt_time THEN
		t_value := %[1]s.permute(t_value, time_bits, key, rounds);
	END IF;

	RETURN (t_value << data_bits) | data;
END;
$fn$;

CREATE OR REPLACE FUNCTION %[1]s.decompose(
	id bigint,
	data_bits int,
	key int,
	rounds int,
	time_bits int,
	encrypt_time boolean
)
RETURNS bigint
LANGUAGE plpgsql
IMMUTABLE PARALLEL SAFE STRICT
AS $fn$
DECLARE
	total int;
	data bigint;
BEGIN
	IF data_bits < 0 OR data_bits > 62 OR data_bits %% 2 <> 0 THEN
		RAISE EXCEPTION 'invalid parameter: data_bits=%% must be even and between 0 and 62', data_bits
			USING ERRCODE = '%[3]s';
	END IF;
	IF time_bits < 0 THEN
		RAISE EXCEPTION 'configuration conflict: time_bits=%% must not be negative', time_bits
			USING ERRCODE = '%[4]s';
	END IF;

	total := data_bits + time_bits;
	IF id < 0 OR (total < 63 AND id > ((1::bigint << total) - 1)) THEN
		RAISE EXCEPTION 'invalid parameter: identifier=%% must fit the composed %%-bit width', id, total
			USING ERRCODE = '%[3]s';
	END IF;

	data := id & ((1::bigint << data_bits) - 1);
	RETURN %[1]s.unpermute(data, data_bits, key, rounds);
END;
$fn$;

CREATE OR REPLACE FUNCTION %[1]s.apply_binding()
RETURNS trigger
LANGUAGE plpgsql
AS $fn$
DECLARE
	src_col text;
	tgt_col text;
	v_data_bits int;
	v_key int;
	v_rounds int;
	v_time_bits int;
	v_time_bucket bigint;
	v_time_offset bigint;
	v_encrypt_time boolean;
	v_source bigint;
	v_old_source bigint;
	v_old_target bigint;
	v_new_target bigint;
	v_id bigint;
BEGIN
	IF TG_NARGS <> 9 THEN
		RAISE EXCEPTION 'invalid parameter: apply_binding expects 9 arguments, got %%', TG_NARGS
			USING ERRCODE = '%[3]s';
	END IF;

	src_col := TG_ARGV[0];
	tgt_col := TG_ARGV[1];
	v_data_bits := TG_ARGV[2]::int;
	v_key := TG_ARGV[3]::int;
	v_rounds := TG_ARGV[4]::int;
	v_time_bits := TG_ARGV[5]::int;
	v_time_bucket := TG_ARGV[6]::bigint;
	v_time_offset := TG_ARGV[7]::bigint;
	v_encrypt_time := TG_ARGV[8]::boolean;

	IF NOT to_jsonb(NEW) ? src_col THEN
		RAISE EXCEPTION 'invalid parameter: table "%%" has no column "%%"', TG_TABLE_NAME, src_col
			USING ERRCODE = '%[3]s';
	END IF;
	IF NOT to_jsonb(NEW) ? tgt_col THEN
		RAISE EXCEPTION 'invalid parameter: table "%%" has no column "%%"', TG_TABLE_NAME, tgt_col
			USING ERRCODE = '%[3]s';
	END IF;

	v_source := (to_jsonb(NEW) ->> src_col)::bigint;

	IF TG_OP = 'UPDATE' THEN
		v_old_source := (to_jsonb(OLD) ->> src_col)::bigint;
		IF v_source IS NOT DISTINCT FROM v_old_source THEN
			-- Source untouched: the derived column must not move either.
			v_old_target := (to_jsonb(OLD) ->> tgt_col)::bigint;
			v_new_target := (to_jsonb(NEW) ->> tgt_col)::bigint;
			IF v_new_target IS DISTINCT FROM v_old_target THEN
				RAISE EXCEPTION 'derived column "%%" changed from %% to %% while its source column is untouched',
					tgt_col, coalesce(v_old_target::text, 'NULL'), coalesce(v_new_target::text, 'NULL')
					USING ERRCODE = '%[5]s';
			END IF;
			RETURN NEW;
		END IF;
	END IF;

	IF v_source IS NULL THEN
		NEW := jsonb_populate_record(NEW, jsonb_build_object(tgt_col, NULL));
		RETURN NEW;
	END IF;

	v_id := %[1]s.compose(v_source, v_data_bits, v_key, v_rounds, v_time_bits, v_time_bucket, v_time_offset, v_encrypt_time);
	IF %[1]s.decompose(v_id, v_data_bits, v_key, v_rounds, v_time_bits, v_encrypt_time) IS DISTINCT FROM v_source THEN
		RAISE EXCEPTION 'identifier %% in column "%%" does not invert to its source', v_id, tgt_col
			USING ERRCODE = '%[6]s';
	END IF;

	NEW := jsonb_populate_record(NEW, jsonb_build_object(tgt_col, v_id));
	RETURN NEW;
END;
$fn$;
`,
		schema,
		salt,
		SQLStateInvalidParameter,
		SQLStateConfigurationConflict,
		SQLStateTampered,
		SQLStateReversibilityFault,
	)
}

// TriggerName returns the trigger name Attach creates for a derived column.
func TriggerName(table, target string) string {
	return fmt.Sprintf("seqveil_%s_%s", table, target)
}

// attachTriggerSQL builds the trigger DDL for a binding. Every interpolated
// identifier has already passed BindingIdentity.Validate, and the parameter
// arguments are rendered from typed values, so the statement carries no
// caller-controlled text.
func attachTriggerSQL(schema string, b seqveil.Binding) string {
	return fmt.Sprintf(
		`CREATE OR REPLACE TRIGGER %s
			BEFORE INSERT OR UPDATE ON %s
			FOR EACH ROW EXECUTE FUNCTION %s.apply_binding('%s', '%s', '%d', '%d', '%d', '%d', '%d', '%d', '%t')`,
		TriggerName(b.Table, b.Target), b.Table, schema,
		b.Source, b.Target,
		b.DataBits, b.Key, b.Rounds,
		b.TimeBits, b.TimeBucket, b.TimeOffset, b.EncryptTime,
	)
}
