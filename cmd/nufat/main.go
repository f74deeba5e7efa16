// Copyright 2025 the nuFAT authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// nufat mounts a FAT disk image as a FUSE file system.
//
// Usage:
//
//	nufat [flags] IMAGE MOUNTPOINT
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/user"
	"strconv"

	"github.com/ByteOtter/nuFAT/backend"
	"github.com/ByteOtter/nuFAT/backend/gofs"
	"github.com/ByteOtter/nuFAT/backend/mtools"
	"github.com/ByteOtter/nuFAT/fatfs"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	fBackend = pflag.String(
		"backend", "gofs",
		"FAT access backend: gofs (in-process) or mtools (subprocess).")

	fFormat = pflag.Bool(
		"format", false,
		"Format the image as a FAT super-floppy before mounting, creating it "+
			"if absent (gofs only).")

	fLabel = pflag.String(
		"label", "NUFAT",
		"Volume label written by --format.")

	fDebug = pflag.Bool(
		"debug", false,
		"Enable FUSE debug logging.")
)

func currentOwner() (uint32, uint32, error) {
	u, err := user.Current()
	if err != nil {
		return 0, 0, err
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}

	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	return uint32(uid), uint32(gid), nil
}

func openVolume(log *logrus.Logger, image string) (backend.Volume, error) {
	switch *fBackend {
	case "gofs":
		if *fFormat {
			log.Infof("Formatting %s with label %q", image, *fLabel)
			if err := gofs.Format(image, *fLabel); err != nil {
				return nil, err
			}
		}
		return gofs.Open(image)

	case "mtools":
		if *fFormat {
			return nil, fmt.Errorf("--format is only supported with the gofs backend")
		}
		return mtools.Open(image)

	default:
		return nil, fmt.Errorf("unknown backend %q", *fBackend)
	}
}

func main() {
	pflag.Parse()

	if pflag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] IMAGE MOUNTPOINT\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}

	image := pflag.Arg(0)
	mountPoint := pflag.Arg(1)

	log := logrus.StandardLogger()
	if *fDebug {
		log.SetLevel(logrus.DebugLevel)
	}

	vol, err := openVolume(log, image)
	if err != nil {
		log.Fatalf("Opening %s: %v", image, err)
	}

	uid, gid, err := currentOwner()
	if err != nil {
		log.Fatalf("Resolving current user: %v", err)
	}

	server := fatfs.NewServer(
		vol,
		uid,
		gid,
		timeutil.RealClock(),
		stdlog.New(log.WriterLevel(logrus.WarnLevel), "fatfs: ", 0))

	cfg := &fuse.MountConfig{
		FSName:      "nufat",
		ErrorLogger: stdlog.New(log.WriterLevel(logrus.ErrorLevel), "fuse: ", 0),
	}
	if *fDebug {
		cfg.DebugLogger = stdlog.New(log.WriterLevel(logrus.DebugLevel), "fuse: ", 0)
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mounting at %s: %v", mountPoint, err)
	}

	log.Infof("Mounted %s at %s", image, mfs.Dir())

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("Serving: %v", err)
	}

	if err := vol.Close(); err != nil {
		log.Fatalf("Closing %s: %v", image, err)
	}
}
