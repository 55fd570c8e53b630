package postgres

// schemaSQL creates the room and player tables plus the trigger that emits a
// room-scoped notification for every row change. The notification carries
// only identifiers; listeners fetch the full row, which keeps payloads under
// the NOTIFY size limit however long a song pool grows.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS rooms (
	id                uuid PRIMARY KEY,
	lobby_code        text NOT NULL UNIQUE,
	host_id           text NOT NULL,
	host_name         text NOT NULL DEFAULT '',
	phase             text NOT NULL CHECK (phase IN ('lobby', 'playing', 'finished')),
	gamemode          text NOT NULL DEFAULT 'classic',
	gamemode_settings jsonb,
	songs             jsonb,
	current_turn      integer CHECK (current_turn >= 0),
	current_song      jsonb,
	current_player_id uuid,
	generation        integer NOT NULL DEFAULT 0,
	previous_room_id  uuid,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
	id             uuid PRIMARY KEY,
	room_id        uuid NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	session_id     text NOT NULL,
	name           text NOT NULL DEFAULT '',
	color          text NOT NULL DEFAULT '',
	timeline_color text NOT NULL DEFAULT '',
	score          integer NOT NULL DEFAULT 0 CHECK (score >= 0),
	timeline       jsonb,
	character      text NOT NULL DEFAULT '',
	is_host        boolean NOT NULL DEFAULT false,
	joined_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS players_room_id_idx ON players (room_id);
CREATE UNIQUE INDEX IF NOT EXISTS players_room_session_idx ON players (room_id, session_id);

CREATE TABLE IF NOT EXISTS song_catalog (
	id          text PRIMARY KEY,
	title       text NOT NULL,
	artist      text NOT NULL,
	album       text NOT NULL DEFAULT '',
	year        integer NOT NULL,
	genre       text NOT NULL DEFAULT '',
	preview_url text NOT NULL DEFAULT '',
	color       text NOT NULL DEFAULT ''
);

CREATE OR REPLACE FUNCTION hitster_notify_change() RETURNS trigger AS $$
DECLARE
	rec     record;
	target  uuid;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;

	IF TG_TABLE_NAME = 'rooms' THEN
		target := rec.id;
	ELSE
		target := rec.room_id;
	END IF;

	PERFORM pg_notify(
		'room_changes_' || replace(target::text, '-', ''),
		json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'id', rec.id, 'room_id', target)::text
	);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS rooms_notify_change ON rooms;
CREATE TRIGGER rooms_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON rooms
	FOR EACH ROW EXECUTE FUNCTION hitster_notify_change();

DROP TRIGGER IF EXISTS players_notify_change ON players;
CREATE TRIGGER players_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON players
	FOR EACH ROW EXECUTE FUNCTION hitster_notify_change();
`
