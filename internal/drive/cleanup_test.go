// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"context"
	"testing"

	"github.com/ManuGH/ytvault/internal/catalog"
)

func TestCleanupRemovesEmptyFolderChain(t *testing.T) {
	fd := newFakeDrive(t)
	rootID := fd.addFolder("ytvault", "root")
	channel := fd.addFolder("Channel A", rootID)
	series := fd.addFolder("Series B", channel)
	c := fd.client(t, Config{})

	deleted, err := c.CleanupEmptyFolders(context.Background(), []string{series})
	if err != nil {
		t.Fatalf("CleanupEmptyFolders: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != "Series B" || deleted[1] != "Channel A" {
		t.Errorf("deleted %v, want [Series B, Channel A]", deleted)
	}
	if fd.fileByID(series) != nil || fd.fileByID(channel) != nil {
		t.Error("empty folders survived cleanup")
	}
	if fd.fileByID(rootID) == nil {
		t.Error("archive root was deleted")
	}
}

func TestCleanupStopsAtNonEmptyFolder(t *testing.T) {
	fd := newFakeDrive(t)
	rootID := fd.addFolder("ytvault", "root")
	channel := fd.addFolder("Channel A", rootID)
	series := fd.addFolder("Series B", channel)
	fd.addFile("clip.mp4", "video/mp4", nil, channel)
	c := fd.client(t, Config{})

	deleted, err := c.CleanupEmptyFolders(context.Background(), []string{series})
	if err != nil {
		t.Fatalf("CleanupEmptyFolders: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "Series B" {
		t.Errorf("deleted %v, want [Series B]", deleted)
	}
	if fd.fileByID(channel) == nil {
		t.Error("non-empty channel folder was deleted")
	}
}

func TestCleanupNeverTouchesReservedFolder(t *testing.T) {
	fd := newFakeDrive(t)
	rootID := fd.addFolder("ytvault", "root")
	reserved := fd.addFolder(catalog.ReservedFolderName, rootID)
	c := fd.client(t, Config{})

	deleted, err := c.CleanupEmptyFolders(context.Background(), []string{reserved})
	if err != nil {
		t.Fatalf("CleanupEmptyFolders: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted %v, want nothing", deleted)
	}
	if fd.fileByID(reserved) == nil {
		t.Error("reserved folder was deleted")
	}
}

func TestCleanupToleratesMissingAndNonFolderSeeds(t *testing.T) {
	fd := newFakeDrive(t)
	rootID := fd.addFolder("ytvault", "root")
	fileID := fd.addFile("clip.mp4", "video/mp4", nil, rootID)
	c := fd.client(t, Config{})

	deleted, err := c.CleanupEmptyFolders(context.Background(), []string{"gone", fileID})
	if err != nil {
		t.Fatalf("CleanupEmptyFolders: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted %v, want nothing", deleted)
	}
	if fd.fileByID(fileID) == nil {
		t.Error("plain file was deleted")
	}
}

func TestCleanupInvalidatesFolderCache(t *testing.T) {
	fd := newFakeDrive(t)
	c := fd.client(t, Config{})
	ctx := context.Background()

	id1, err := c.EnsureFolderPath(ctx, "Channel A")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CleanupEmptyFolders(ctx, []string{id1}); err != nil {
		t.Fatal(err)
	}
	if fd.fileByID(id1) != nil {
		t.Fatal("folder not deleted")
	}

	id2, err := c.EnsureFolderPath(ctx, "Channel A")
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id1 {
		t.Error("stale cached folder id returned after cleanup")
	}
	if fd.fileByID(id2) == nil {
		t.Error("folder not recreated")
	}
}
